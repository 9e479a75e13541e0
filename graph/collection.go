package graph

import (
	"sort"

	"github.com/pkg/errors"

	"graphcomputer/util"
)

type StorageLevel string

const (
	NONE            StorageLevel = "NONE"
	MEMORY_ONLY     StorageLevel = "MEMORY_ONLY"
	MEMORY_ONLY_SER StorageLevel = "MEMORY_ONLY_SER"
)

var ErrStorageLevel = errors.New("unknown storage level")

func ParseStorageLevel(level string) (StorageLevel, error) {
	switch StorageLevel(level) {
	case NONE, MEMORY_ONLY, MEMORY_ONLY_SER:
		return StorageLevel(level), nil
	case "":
		return MEMORY_ONLY, nil
	}
	return "", errors.Wrapf(ErrStorageLevel, "%q", level)
}

// Partitioner decides which partition a vertex id belongs to.
type Partitioner interface {
	NumPartitions() int
	Partition(id uint64) int
}

type HashPartitioner struct {
	Partitions int
}

func (p HashPartitioner) NumPartitions() int {
	return p.Partitions
}

func (p HashPartitioner) Partition(id uint64) int {
	return util.PartitionOf(id, p.Partitions)
}

// Collection is a partitioned set of vertices. Partitioner is nil unless the
// vertices were placed by key.
type Collection struct {
	Partitions  [][]*Vertex
	Partitioner Partitioner
	Level       StorageLevel
}

func NewCollection(partitions [][]*Vertex, partitioner Partitioner) *Collection {
	return &Collection{Partitions: partitions, Partitioner: partitioner, Level: NONE}
}

// FromVertices builds an unpartitioned collection with a single partition.
func FromVertices(vertices ...*Vertex) *Collection {
	return NewCollection([][]*Vertex{vertices}, nil)
}

func (c *Collection) NumPartitions() int {
	return len(c.Partitions)
}

func (c *Collection) Count() int {
	count := 0
	for _, p := range c.Partitions {
		count += len(p)
	}
	return count
}

func (c *Collection) Vertices() []*Vertex {
	vertices := make([]*Vertex, 0, c.Count())
	for _, p := range c.Partitions {
		vertices = append(vertices, p...)
	}
	return vertices
}

// SortedVertices returns all vertices ordered by id.
func (c *Collection) SortedVertices() []*Vertex {
	vertices := c.Vertices()
	sort.Slice(vertices, func(i, j int) bool { return vertices[i].Id < vertices[j].Id })
	return vertices
}

// Index maps every vertex id to the partition holding it.
func (c *Collection) Index() map[uint64]int {
	index := make(map[uint64]int, c.Count())
	for idx, p := range c.Partitions {
		for _, v := range p {
			index[v.Id] = idx
		}
	}
	return index
}

func (c *Collection) Lookup(id uint64) (*Vertex, bool) {
	if c.Partitioner != nil && c.Partitioner.NumPartitions() == len(c.Partitions) {
		for _, v := range c.Partitions[c.Partitioner.Partition(id)] {
			if v.Id == id {
				return v, true
			}
		}
		return nil, false
	}
	for _, p := range c.Partitions {
		for _, v := range p {
			if v.Id == id {
				return v, true
			}
		}
	}
	return nil, false
}

func (c *Collection) ResolveVertex(id uint64) (*Vertex, error) {
	if v, ok := c.Lookup(id); ok {
		return v, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "vertex %d", id)
}

func (c *Collection) PartitionBy(partitioner Partitioner) *Collection {
	partitions := make([][]*Vertex, partitioner.NumPartitions())
	for _, v := range c.Vertices() {
		idx := partitioner.Partition(v.Id)
		partitions[idx] = append(partitions[idx], v)
	}
	return &Collection{Partitions: partitions, Partitioner: partitioner, Level: NONE}
}

// Coalesce merges neighbouring partitions down to n without moving vertices
// between the merged groups.
func (c *Collection) Coalesce(n int) *Collection {
	if n <= 0 || n >= len(c.Partitions) {
		return c
	}
	partitions := make([][]*Vertex, n)
	for idx, p := range c.Partitions {
		target := idx * n / len(c.Partitions)
		partitions[target] = append(partitions[target], p...)
	}
	return &Collection{Partitions: partitions, Level: NONE}
}

// Repartition spreads the vertices evenly over n partitions.
func (c *Collection) Repartition(n int) *Collection {
	if n <= 0 {
		n = 1
	}
	partitions := make([][]*Vertex, n)
	for idx, v := range c.Vertices() {
		partitions[idx%n] = append(partitions[idx%n], v)
	}
	return &Collection{Partitions: partitions, Level: NONE}
}

// Filter keeps the partition layout but drops the partitioner.
func (c *Collection) Filter(filter GraphFilter) *Collection {
	partitions := make([][]*Vertex, len(c.Partitions))
	for idx, p := range c.Partitions {
		partitions[idx] = make([]*Vertex, 0, len(p))
		for _, v := range p {
			if filtered, ok := filter.Apply(v); ok {
				partitions[idx] = append(partitions[idx], filtered)
			}
		}
	}
	return &Collection{Partitions: partitions, Level: NONE}
}

// MapValues rewrites every vertex. Vertex ids must not change, so the
// partitioner is kept.
func (c *Collection) MapValues(fn func(*Vertex) *Vertex) *Collection {
	partitions := make([][]*Vertex, len(c.Partitions))
	for idx, p := range c.Partitions {
		partitions[idx] = make([]*Vertex, len(p))
		for vIdx, v := range p {
			partitions[idx][vIdx] = fn(v)
		}
	}
	return &Collection{Partitions: partitions, Partitioner: c.Partitioner, Level: NONE}
}

func (c *Collection) Clone() *Collection {
	return c.MapValues(func(v *Vertex) *Vertex { return v.Clone() })
}

// Persist materialises the collection at the given level. MEMORY_ONLY keeps
// deep copies, MEMORY_ONLY_SER round trips every partition through codec.
func (c *Collection) Persist(level StorageLevel, codec Codec) (*Collection, error) {
	switch level {
	case NONE:
		return c, nil
	case MEMORY_ONLY:
		persisted := c.Clone()
		persisted.Level = level
		return persisted, nil
	case MEMORY_ONLY_SER:
		partitions := make([][]*Vertex, len(c.Partitions))
		for idx, p := range c.Partitions {
			data, err := codec.Marshal(p)
			if err != nil {
				return nil, errors.Wrapf(err, "serializing partition %d", idx)
			}
			if err := codec.Unmarshal(data, &partitions[idx]); err != nil {
				return nil, errors.Wrapf(err, "deserializing partition %d", idx)
			}
		}
		return &Collection{Partitions: partitions, Partitioner: c.Partitioner, Level: level}, nil
	}
	return nil, errors.Wrapf(ErrStorageLevel, "%q", level)
}

func (c *Collection) Unpersist() {
	c.Level = NONE
}

func (c *Collection) IsPersisted() bool {
	return c.Level != NONE && c.Level != ""
}
