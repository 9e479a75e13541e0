package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ring builds 0 -> 1 -> ... -> n-1 -> 0 with "next" edges on both ends.
func ring(n int) []*Vertex {
	vertices := make([]*Vertex, n)
	for i := range vertices {
		vertices[i] = NewVertex(uint64(i), "node")
		vertices[i].SetProperty("name", string(rune('a'+i)))
	}
	for i := range vertices {
		next := (i + 1) % n
		vertices[i].AddEdge("next", uint64(next), nil)
		vertices[next].AddInEdge("next", uint64(i), nil)
	}
	return vertices
}

func TestVertexEdgesAndNeighbors(t *testing.T) {
	assert := assert.New(t)
	vertices := ring(5)

	assert.Equal([]uint64{1}, vertices[0].Neighbors(OUT))
	assert.Equal([]uint64{4}, vertices[0].Neighbors(IN))
	assert.ElementsMatch([]uint64{1, 4}, vertices[0].Neighbors(BOTH))
	assert.Empty(vertices[0].Edges(OUT, "missing"))
	assert.Equal(2, vertices[3].Degree(BOTH))
}

func TestVertexCloneIsDeep(t *testing.T) {
	v := ring(3)[0]
	clone := v.Clone()
	clone.SetProperty("name", "changed")
	clone.OutEdges[0].Label = "changed"

	name, _ := v.Property("name")
	assert.Equal(t, "a", name)
	assert.Equal(t, "next", v.OutEdges[0].Label)
}

func TestDetachAttachRoundTrip(t *testing.T) {
	assert := assert.New(t)
	vertices := ring(3)
	resolver := VertexResolver{}
	for _, v := range vertices {
		resolver[v.Id] = v
	}

	detached := Detach(vertices[1])
	assert.Equal(ReferenceVertex{Id: 1, Label: "node"}, detached)

	attached, err := Attach(detached, resolver)
	require.NoError(t, err)
	assert.Same(vertices[1], attached)

	edgeRef := Detach(vertices[0].OutEdges[0])
	edge, err := Attach(edgeRef, resolver)
	require.NoError(t, err)
	assert.Equal(vertices[0].OutEdges[0].Key(), edge.(Edge).Key())

	value, err := Attach("plain", resolver)
	require.NoError(t, err)
	assert.Equal("plain", value)

	_, err = Attach(ReferenceVertex{Id: 42}, resolver)
	assert.ErrorIs(err, ErrNotFound)
}

func TestSameElement(t *testing.T) {
	v := NewVertex(7, "node")
	same, ok := SameElement(v, ReferenceVertex{Id: 7})
	assert.True(t, ok)
	assert.True(t, same)

	_, ok = SameElement(v, 7)
	assert.False(t, ok)
}

func TestPartitionByKeepsEveryVertex(t *testing.T) {
	assert := assert.New(t)
	c := FromVertices(ring(10)...)
	partitioned := c.PartitionBy(HashPartitioner{Partitions: 3})

	assert.Equal(3, partitioned.NumPartitions())
	assert.Equal(10, partitioned.Count())
	for idx, p := range partitioned.Partitions {
		for _, v := range p {
			assert.Equal(idx, partitioned.Partitioner.Partition(v.Id))
		}
	}
	v, ok := partitioned.Lookup(7)
	assert.True(ok)
	assert.Equal(uint64(7), v.Id)
}

func TestCoalesceAndRepartitionDropPartitioner(t *testing.T) {
	assert := assert.New(t)
	partitioned := FromVertices(ring(10)...).PartitionBy(HashPartitioner{Partitions: 4})

	coalesced := partitioned.Coalesce(2)
	assert.Equal(2, coalesced.NumPartitions())
	assert.Equal(10, coalesced.Count())
	assert.Nil(coalesced.Partitioner)

	repartitioned := partitioned.Repartition(5)
	assert.Equal(5, repartitioned.NumPartitions())
	assert.Equal(10, repartitioned.Count())
	assert.Nil(repartitioned.Partitioner)

	assert.Same(partitioned, partitioned.Coalesce(8))
}

func TestFilter(t *testing.T) {
	assert := assert.New(t)
	vertices := ring(4)
	vertices[2].Label = "other"
	vertices[1].AddEdge("skip", 3, nil)
	c := FromVertices(vertices...).PartitionBy(HashPartitioner{Partitions: 2})

	filtered := c.Filter(GraphFilter{VertexLabels: []string{"node"}, EdgeLabels: []string{"next"}})
	assert.Nil(filtered.Partitioner)
	assert.Equal(3, filtered.Count())
	_, ok := filtered.Lookup(2)
	assert.False(ok)
	v1, _ := filtered.Lookup(1)
	assert.Len(v1.OutEdges, 1)
	assert.Len(vertices[1].OutEdges, 2)
}

func TestPersistSerializedKeepsPartitioner(t *testing.T) {
	assert := assert.New(t)
	c := FromVertices(ring(6)...).PartitionBy(HashPartitioner{Partitions: 2})

	persisted, err := c.Persist(MEMORY_ONLY_SER, GobCodec{})
	require.NoError(t, err)
	assert.True(persisted.IsPersisted())
	assert.Equal(c.Partitioner, persisted.Partitioner)
	assert.Equal(6, persisted.Count())

	v, _ := persisted.Lookup(3)
	name, _ := v.Property("name")
	assert.Equal("d", name)
	original, _ := c.Lookup(3)
	assert.NotSame(original, v)

	persisted.Unpersist()
	assert.False(persisted.IsPersisted())

	_, err = c.Persist("DISK", GobCodec{})
	assert.ErrorIs(err, ErrStorageLevel)
}

func TestCodecByName(t *testing.T) {
	codec, err := CodecByName("json")
	require.NoError(t, err)
	assert.Equal(t, JSON, codec.Name())

	_, err = CodecByName("kryo")
	assert.ErrorIs(t, err, ErrUnknownSerializer)
}
