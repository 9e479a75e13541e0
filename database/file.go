package database

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/bagel"
	"graphcomputer/graph"
)

const (
	FILE        = "file"
	memoryFile  = "memory.json"
	partPattern = "part-%05d.jsonl"
)

var _ bagel.Storage = (*FileStorage)(nil)

// FileStorage writes each location as a directory of JSON lines files, one
// per partition, plus a memory.json. Numbers in properties read back as
// float64.
type FileStorage struct {
	root    string
	options Options
}

func init() {
	Register(FILE, func(_ context.Context, u *url.URL, options Options) (bagel.Storage, error) {
		root := u.Path
		if u.Host != "" {
			root = u.Host + root
		}
		return NewFileStorage(root, options)
	})
}

func NewFileStorage(root string, options Options) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStorage{root: root, options: options}, nil
}

func (s *FileStorage) dir(location string) (string, error) {
	if err := checkLocation(location); err != nil {
		return "", err
	}
	clean := filepath.Clean(location)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrLocation, "%q escapes the storage root", location)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStorage) ReadGraph(ctx context.Context, location string) (*graph.Collection, error) {
	dir, err := s.dir(location)
	if err != nil {
		return nil, err
	}
	parts, err := filepath.Glob(filepath.Join(dir, "part-*.jsonl"))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, notFound(location)
	}
	sort.Strings(parts)

	partitions := make([][]*graph.Vertex, 0, len(parts))
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vertices, err := readPart(part)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", part)
		}
		partitions = append(partitions, vertices)
	}
	c := graph.NewCollection(partitions, nil)
	if s.options.Partitions > 0 {
		c = c.PartitionBy(graph.HashPartitioner{Partitions: s.options.Partitions})
	}
	return c, nil
}

func readPart(path string) ([]*graph.Vertex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var vertices []*graph.Vertex
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		v := &graph.Vertex{}
		if err := json.Unmarshal(scanner.Bytes(), v); err != nil {
			return nil, err
		}
		if v.Properties == nil {
			v.Properties = make(map[string]interface{})
		}
		vertices = append(vertices, v)
	}
	return vertices, scanner.Err()
}

// WriteGraph replaces the location with one file per partition.
func (s *FileStorage) WriteGraph(ctx context.Context, location string, g *graph.Collection) error {
	dir, err := s.dir(location)
	if err != nil {
		return err
	}
	if err := removeParts(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for idx, partition := range g.Partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writePart(filepath.Join(dir, fmt.Sprintf(partPattern, idx)), partition); err != nil {
			return errors.Wrapf(err, "writing partition %d", idx)
		}
	}
	log.Debugf("WriteGraph: wrote %d partitions to %v", len(g.Partitions), dir)
	return nil
}

func removeParts(dir string) error {
	parts, err := filepath.Glob(filepath.Join(dir, "part-*.jsonl"))
	if err != nil {
		return err
	}
	for _, part := range parts {
		if err := os.Remove(part); err != nil {
			return err
		}
	}
	return nil
}

func writePart(path string, vertices []*graph.Vertex) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	encoder := json.NewEncoder(w)
	for _, v := range vertices {
		if err := encoder.Encode(v); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (s *FileStorage) readMemoryFile(dir string) (map[string]interface{}, error) {
	memory := make(map[string]interface{})
	data, err := os.ReadFile(filepath.Join(dir, memoryFile))
	if os.IsNotExist(err) {
		return memory, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &memory); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", memoryFile)
	}
	return memory, nil
}

func (s *FileStorage) ReadMemory(_ context.Context, location string, key string) (interface{}, error) {
	dir, err := s.dir(location)
	if err != nil {
		return nil, err
	}
	memory, err := s.readMemoryFile(dir)
	if err != nil {
		return nil, err
	}
	value, ok := memory[key]
	if !ok {
		return nil, memoryNotFound(location, key)
	}
	return value, nil
}

// WriteMemory stores the value as JSON. Map keys that are not strings are
// written in their decimal form.
func (s *FileStorage) WriteMemory(_ context.Context, location string, key string, value interface{}) error {
	dir, err := s.dir(location)
	if err != nil {
		return err
	}
	memory, err := s.readMemoryFile(dir)
	if err != nil {
		return err
	}
	memory[key] = value
	data, err := json.MarshalIndent(memory, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding memory %q", key)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, memoryFile), data, 0o644)
}

func (s *FileStorage) Exists(_ context.Context, location string) (bool, error) {
	dir, err := s.dir(location)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *FileStorage) Delete(_ context.Context, location string) error {
	dir, err := s.dir(location)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *FileStorage) Locations(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var locations []string
	for _, e := range entries {
		if e.IsDir() {
			locations = append(locations, e.Name())
		}
	}
	return locations, nil
}
