package graph

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	GOB  = "gob"
	JSON = "json"
)

var ErrUnknownSerializer = errors.New("unknown serializer")

// Codec serialises records for persistence, checkpoints and storage
// backends.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type GobCodec struct{}

func (GobCodec) Name() string {
	return GOB
}

func (GobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// JSONCodec is readable but loses number types: every number decodes into
// float64.
type JSONCodec struct{}

func (JSONCodec) Name() string {
	return JSON
}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case GOB, "":
		return GobCodec{}, nil
	case JSON:
		return JSONCodec{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownSerializer, "%q", name)
}
