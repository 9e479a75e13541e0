// Package database holds the storage backends graphs are loaded from and
// written to. Every backend implements bagel.Storage and is opened from a
// URL whose scheme picks the backend.
package database

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"graphcomputer/bagel"
	"graphcomputer/graph"
)

const (
	CENTRAL_DB_NAME         = "bagel"
	DEFAULT_REGION          = "us-east-2"
	MAXIMUM_ITEMS_PER_BATCH = 25
)

var (
	ErrUnknownScheme = errors.New("unknown storage scheme")
	ErrLocation      = errors.New("invalid storage location")
)

// Options are shared by all backends.
type Options struct {
	// Codec encodes vertex records. Defaults to gob.
	Codec graph.Codec
	// Partitions > 0 makes reads come back hash partitioned into that many
	// partitions.
	Partitions int
}

func (o Options) codec() graph.Codec {
	if o.Codec == nil {
		return graph.GobCodec{}
	}
	return o.Codec
}

// Lister is implemented by backends that can enumerate their locations.
type Lister interface {
	Locations(ctx context.Context) ([]string, error)
}

// Opener opens a backend from a parsed storage URL.
type Opener func(ctx context.Context, u *url.URL, options Options) (bagel.Storage, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register makes a backend available to Open under a URL scheme.
func Register(scheme string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[scheme] = opener
}

func Schemes() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	schemes := make([]string, 0, len(openers))
	for s := range openers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open opens the backend named by a storage URL such as
// sqlite3:///tmp/graphs.db, bolt:///tmp/graphs.bolt or
// dynamodb://table?region=us-east-2. Environment variables in the URL are
// expanded, so secrets can come from an env file. The query parameters
// partitions and serializer set the Options.
func Open(ctx context.Context, rawURL string) (bagel.Storage, error) {
	u, err := url.Parse(os.ExpandEnv(rawURL))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing storage url")
	}
	options, err := parseOptions(u.Query())
	if err != nil {
		return nil, err
	}

	openersMu.RLock()
	opener, ok := openers[u.Scheme]
	openersMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownScheme, "%q (registered: %v)", u.Scheme, Schemes())
	}
	log.Printf("Open: opening %v storage", u.Scheme)
	return opener(ctx, u, options)
}

func parseOptions(query url.Values) (Options, error) {
	options := Options{}
	if p := query.Get("partitions"); p != "" {
		partitions, err := strconv.Atoi(p)
		if err != nil || partitions < 0 {
			return options, errors.Errorf("invalid partitions %q", p)
		}
		options.Partitions = partitions
	}
	if s := query.Get("serializer"); s != "" {
		codec, err := graph.CodecByName(s)
		if err != nil {
			return options, err
		}
		options.Codec = codec
	}
	return options, nil
}

// withoutOptions strips the query parameters Open consumes so the rest of
// the query can be handed to a driver.
func withoutOptions(query url.Values) url.Values {
	rest := url.Values{}
	for k, v := range query {
		if k == "partitions" || k == "serializer" {
			continue
		}
		rest[k] = v
	}
	return rest
}

func checkLocation(location string) error {
	if strings.TrimSpace(location) == "" {
		return errors.Wrap(ErrLocation, "empty location")
	}
	return nil
}

// memoryValue wraps memory values so gob keeps their dynamic type.
type memoryValue struct {
	Value interface{}
}

func encodeMemory(value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(memoryValue{Value: value}); err != nil {
		return nil, errors.Wrap(err, "encoding memory value")
	}
	return buf.Bytes(), nil
}

func decodeMemory(data []byte) (interface{}, error) {
	var value memoryValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return nil, errors.Wrap(err, "decoding memory value")
	}
	return value.Value, nil
}

func encodeVertex(codec graph.Codec, v *graph.Vertex) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding vertex %d", v.Id)
	}
	return data, nil
}

func decodeVertex(codec graph.Codec, data []byte) (*graph.Vertex, error) {
	v := &graph.Vertex{}
	if err := codec.Unmarshal(data, v); err != nil {
		return nil, errors.Wrap(err, "decoding vertex")
	}
	if v.Properties == nil {
		v.Properties = make(map[string]interface{})
	}
	return v, nil
}

// getBatches splits n items into consecutive [start, end) ranges of at most
// size items.
func getBatches(n int, size int) [][2]int {
	if size <= 0 {
		size = MAXIMUM_ITEMS_PER_BATCH
	}
	batches := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		batches = append(batches, [2]int{start, end})
	}
	return batches
}

// partitionReader is implemented by backends that can select one hash
// partition on the server side.
type partitionReader interface {
	readPartition(ctx context.Context, location string, partition int, numPartitions int) ([]*graph.Vertex, error)
}

// readPartitioned loads every partition of a location concurrently.
func readPartitioned(ctx context.Context, r partitionReader, location string, numPartitions int) (*graph.Collection, error) {
	partitions := make([][]*graph.Vertex, numPartitions)
	eg, ctx := errgroup.WithContext(ctx)
	for p := 0; p < numPartitions; p++ {
		p := p
		eg.Go(func() error {
			vertices, err := r.readPartition(ctx, location, p, numPartitions)
			if err != nil {
				return errors.Wrapf(err, "reading partition %d", p)
			}
			partitions[p] = vertices
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	count := 0
	for _, p := range partitions {
		count += len(p)
	}
	if count == 0 {
		return nil, notFound(location)
	}
	return graph.NewCollection(partitions, graph.HashPartitioner{Partitions: numPartitions}), nil
}

// collect builds the collection a read returns, hash partitioned when the
// options ask for it.
func collect(vertices []*graph.Vertex, options Options) *graph.Collection {
	sort.Slice(vertices, func(i, j int) bool { return vertices[i].Id < vertices[j].Id })
	c := graph.FromVertices(vertices...)
	if options.Partitions > 0 {
		c = c.PartitionBy(graph.HashPartitioner{Partitions: options.Partitions})
	}
	return c
}

func notFound(location string) error {
	return errors.Wrapf(graph.ErrNotFound, "no graph stored at %q", location)
}

func memoryNotFound(location, key string) error {
	return errors.Wrapf(graph.ErrNotFound, "no memory %q stored at %q", key, location)
}

func getPartitionName(numPartitions int) string {
	return fmt.Sprintf("P%d", numPartitions)
}
