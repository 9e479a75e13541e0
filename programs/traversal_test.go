package programs

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/traversal"
)

func init() {
	traversal.Register("test.outOut", func() *traversal.Traversal {
		return traversal.New(traversal.Out(), traversal.Out())
	})
	traversal.Register("test.outOutPaths", func() *traversal.Traversal {
		return traversal.New(traversal.Out(), traversal.Out()).WithPaths()
	})
	traversal.Register("test.weights", func() *traversal.Traversal {
		return traversal.New(traversal.Out(), traversal.Values("weight"))
	})
	traversal.Register("test.twoLoops", func() *traversal.Traversal {
		return traversal.New(traversal.Repeat(2, traversal.Out("next")))
	})
}

// diamondGraph is 0 -> 1 -> 3 and 0 -> 2 -> 3.
func diamondGraph() *graph.Collection {
	vertices := make([]*graph.Vertex, 4)
	for i := range vertices {
		vertices[i] = graph.NewVertex(uint64(i), "node")
		vertices[i].SetProperty("weight", float64(i))
	}
	for _, e := range [][2]uint64{{0, 1}, {0, 2}, {1, 3}, {2, 3}} {
		vertices[e[0]].AddEdge("link", e[1], nil)
		vertices[e[1]].AddInEdge("link", e[0], nil)
	}
	return graph.FromVertices(vertices...)
}

func resolverOf(g *graph.Collection) graph.VertexResolver {
	resolver := graph.VertexResolver{}
	for _, v := range g.Vertices() {
		resolver[v.Id] = v
	}
	return resolver
}

func haltedTraversers(t *testing.T, name string, g *graph.Collection, workers int, sources ...uint64) []*traversal.Traverser {
	t.Helper()
	program, err := NewTraversalProgram(name, sources...)
	require.NoError(t, err)
	result := run(t, bagel.NewGraphComputer(g).
		Program(program).
		MapReduce(NewTraverserMapReduce()).
		Workers(workers))

	assert.Same(t, g, result.Graph)
	value, err := result.Memory.Get(TRAVERSERS)
	require.NoError(t, err)
	return value.([]*traversal.Traverser)
}

func idsAndBulks(traversers []*traversal.Traverser) map[uint64]int64 {
	out := make(map[uint64]int64)
	for _, tr := range traversers {
		out[tr.Get().(graph.Element).Key().Id] += tr.Bulk()
	}
	return out
}

func TestTraversalProgramMatchesInProcessExecution(t *testing.T) {
	for _, workers := range []int{1, 3} {
		g := diamondGraph()
		olap := haltedTraversers(t, "test.outOut", g, workers, 0)

		tr, err := traversal.Lookup("test.outOut")
		require.NoError(t, err)
		oltp, err := tr.Execute(context.Background(), resolverOf(g), 2, g.Vertices()[0])
		require.NoError(t, err)

		require.Len(t, olap, 1)
		assert.Equal(t, int64(2), olap[0].Bulk())
		assert.Equal(t, idsAndBulks(oltp.Traversers()), idsAndBulks(olap))
	}
}

func TestTraversalProgramKeepsPaths(t *testing.T) {
	olap := haltedTraversers(t, "test.outOutPaths", diamondGraph(), 2, 0)
	require.Len(t, olap, 2)
	for _, tr := range olap {
		assert.Equal(t, 3, tr.Path().Size())
		assert.Equal(t, int64(1), tr.Bulk())
	}
}

func TestTraversalProgramValues(t *testing.T) {
	olap := haltedTraversers(t, "test.weights", diamondGraph(), 2, 0)
	var values []float64
	for _, tr := range olap {
		values = append(values, tr.Get().(float64))
	}
	sort.Float64s(values)
	assert.Equal(t, []float64{1, 2}, values)
}

func TestTraversalProgramRepeat(t *testing.T) {
	olap := haltedTraversers(t, "test.twoLoops", ringGraph(5), 2, 0)
	assert.Equal(t, map[uint64]int64{2: 1}, idsAndBulks(olap))
	assert.Equal(t, 0, olap[0].Loops())
}

func TestTraversalProgramFromEveryVertex(t *testing.T) {
	olap := haltedTraversers(t, "test.twoLoops", ringGraph(5), 3)
	assert.Equal(t, map[uint64]int64{0: 1, 1: 1, 2: 1, 3: 1, 4: 1}, idsAndBulks(olap))
}

func TestTraversalProgramUnknownName(t *testing.T) {
	_, err := NewTraversalProgram("test.missing")
	assert.ErrorIs(t, err, traversal.ErrUnknownTraversal)

	_, err = bagel.CreateVertexProgram(bagel.Configuration{
		bagel.VERTEX_PROGRAM: TRAVERSAL, TRAVERSAL_NAME: "test.missing",
	})
	assert.ErrorIs(t, err, bagel.ErrInstantiation)
}

func TestTraversalProgramRoundTripThroughConfiguration(t *testing.T) {
	program, err := NewTraversalProgram("test.outOut", 0, 2)
	require.NoError(t, err)
	config := bagel.Configuration{}
	program.StoreState(config)

	created, err := bagel.CreateVertexProgram(config)
	require.NoError(t, err)
	loaded := created.(*TraversalProgram)
	assert.Equal(t, "test.outOut", loaded.Name)
	assert.Equal(t, []uint64{0, 2}, loaded.Sources)
}
