package programs

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphcomputer/bagel"
	"graphcomputer/graph"
)

const (
	TEST_VERTEX_ID           = uint64(1)
	float64EqualityThreshold = 1e-8
)

// testMemory pins the iteration a single Execute call sees.
type testMemory struct {
	*bagel.MapMemory
	iteration int
}

func newTestMemory(iteration int, keys ...bagel.MemoryComputeKey) *testMemory {
	return &testMemory{MapMemory: bagel.NewMapMemory(keys...), iteration: iteration}
}

func (m *testMemory) Iteration() int {
	return m.iteration
}

func (m *testMemory) IsInitialIteration() bool {
	return m.iteration == 0
}

type sentMessage struct {
	dest  uint64
	value interface{}
}

type testMessenger struct {
	incoming []interface{}
	sent     []sentMessage
}

func (m *testMessenger) ReceiveMessages() []interface{} {
	return m.incoming
}

func (m *testMessenger) SendMessage(destination uint64, message interface{}) {
	m.sent = append(m.sent, sentMessage{dest: destination, value: message})
}

func createNewTestVertex(neighbors ...uint64) *graph.Vertex {
	vertex := graph.NewVertex(TEST_VERTEX_ID, "page")
	for _, n := range neighbors {
		vertex.AddEdge("link", n, nil)
	}
	return vertex
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= float64EqualityThreshold
}

// ringGraph links vertex i to vertex i+1 mod n.
func ringGraph(n int) *graph.Collection {
	vertices := make([]*graph.Vertex, n)
	for i := range vertices {
		vertices[i] = graph.NewVertex(uint64(i), "v")
	}
	for i, v := range vertices {
		next := (i + 1) % n
		v.AddEdge("next", uint64(next), nil)
		vertices[next].AddInEdge("next", uint64(i), nil)
	}
	return graph.FromVertices(vertices...)
}

// edgeGraph builds a graph from (out, in, weight) triples over vertices
// 0..n-1.
func edgeGraph(n int, edges ...[3]float64) *graph.Collection {
	vertices := make([]*graph.Vertex, n)
	for i := range vertices {
		vertices[i] = graph.NewVertex(uint64(i), "v")
	}
	for _, e := range edges {
		out, in := uint64(e[0]), uint64(e[1])
		props := map[string]interface{}{"weight": e[2]}
		vertices[out].AddEdge("link", in, props)
		vertices[in].AddInEdge("link", out, props)
	}
	return graph.FromVertices(vertices...)
}

func run(t *testing.T, gc *bagel.GraphComputer) *bagel.ComputerResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := gc.Run(ctx)
	require.NoError(t, err)
	return result
}

func TestReachabilityRing(t *testing.T) {
	for _, workers := range []int{1, 2, 5} {
		result := run(t, bagel.NewGraphComputer(ringGraph(5)).
			Program(NewReachability(0, 2, graph.BOTH)).
			MapReduce(NewPropertyMapReduce(DISTANCE)).
			Workers(workers))

		assert.Equal(t, 2, result.Memory.Iteration(), "workers %d", workers)
		distances, err := result.Memory.Get(DISTANCE)
		require.NoError(t, err)
		assert.Equal(t, map[uint64]interface{}{0: 0, 1: 1, 2: 2, 3: 2, 4: 1}, distances)
		assert.False(t, result.Memory.Exists(reachabilityChanged))
		assert.Equal(t, 5, result.Graph.Count())
	}
}

func TestReachabilityDirected(t *testing.T) {
	result := run(t, bagel.NewGraphComputer(ringGraph(5)).
		Program(NewReachability(0, 3, graph.OUT)).
		MapReduce(NewPropertyMapReduce(DISTANCE)).
		Workers(2))
	distances, err := result.Memory.Get(DISTANCE)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]interface{}{0: 0, 1: 1, 2: 2, 3: 3}, distances)
	assert.Equal(t, 3, result.Memory.Iteration())
}

func TestReachabilityStopsWhenNothingChanges(t *testing.T) {
	g := edgeGraph(3, [3]float64{0, 1, 1})
	result := run(t, bagel.NewGraphComputer(g).
		Program(NewReachability(0, 10, graph.OUT)).
		MapReduce(NewPropertyMapReduce(DISTANCE)))
	distances, err := result.Memory.Get(DISTANCE)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]interface{}{0: 0, 1: 1}, distances)
	assert.Equal(t, 2, result.Memory.Iteration())
}

func TestComputePageRankInitialIteration(t *testing.T) {
	p := NewPageRank(10)
	vertex := createNewTestVertex(5, 6)
	messenger := &testMessenger{}
	memory := newTestMemory(0, p.MemoryComputeKeys()...)

	require.NoError(t, p.Execute(vertex, messenger, memory))
	rank, _ := vertex.Property(RANK)
	assert.Equal(t, 1.0, rank)
	require.Len(t, messenger.sent, 2)
	assertMessageMatches(t, messenger.sent[0], 5, 0.5)
	assertMessageMatches(t, messenger.sent[1], 6, 0.5)
}

func TestComputePageRankOneMessageOneNeighbor(t *testing.T) {
	vertex, messenger := pageRankStep(t, map[uint64]float64{}, []PageRankMessage{{2, 0.5}}, 5)
	assertRank(t, vertex, 0.575)
	require.Len(t, messenger.sent, 1)
	assertMessageMatches(t, messenger.sent[0], 5, 0.575)
}

func TestComputePageRankTwoMessagesOneNeighbor(t *testing.T) {
	vertex, messenger := pageRankStep(t, map[uint64]float64{}, []PageRankMessage{{2, 0.5}, {3, 0.75}}, 5)
	assertRank(t, vertex, 1.2125)
	require.Len(t, messenger.sent, 1)
	assertMessageMatches(t, messenger.sent[0], 5, 1.2125)
}

func TestComputePageRankOneMessageTwoNeighbors(t *testing.T) {
	vertex, messenger := pageRankStep(t, map[uint64]float64{}, []PageRankMessage{{2, 0.55}}, 5, 6)
	assertRank(t, vertex, 0.6175)
	require.Len(t, messenger.sent, 2)
	assertMessageMatches(t, messenger.sent[0], 5, 0.30875)
	assertMessageMatches(t, messenger.sent[1], 6, 0.30875)
}

func TestComputePageRankNoResendIfWithinTolerance(t *testing.T) {
	previous := map[uint64]float64{2: 0.5}
	vertex, messenger := pageRankStep(t, previous, []PageRankMessage{{2, 0.5 + EPSILON/2}}, 5)
	assertRank(t, vertex, 0.575)
	assert.Empty(t, messenger.sent)
}

func TestComputePageRankOnlyRecomputeNewMessages(t *testing.T) {
	previous := map[uint64]float64{2: 0.55, 3: 0.3, 4: 1.5}
	vertex, messenger := pageRankStep(t, previous, []PageRankMessage{{3, 0.8}}, 5, 6, 7, 8, 9)
	assertRank(t, vertex, 2.5725)
	require.Len(t, messenger.sent, 5)
	for idx, dest := range []uint64{5, 6, 7, 8, 9} {
		assertMessageMatches(t, messenger.sent[idx], dest, 0.5145)
	}
	contributions, _ := vertex.Property(pageRankContributions)
	assert.Equal(t, map[uint64]float64{2: 0.55, 3: 0.8, 4: 1.5}, contributions)
}

// pageRankStep runs one later superstep on a vertex whose rank is the one
// its previous contributions give.
func pageRankStep(
	t *testing.T, previous map[uint64]float64, messages []PageRankMessage,
	neighbors ...uint64,
) (*graph.Vertex, *testMessenger) {
	p := NewPageRank(10)
	vertex := createNewTestVertex(neighbors...)
	sum := 0.0
	for _, v := range previous {
		sum += v
	}
	vertex.SetProperty(RANK, (1-DEFAULT_DAMPING)+DEFAULT_DAMPING*sum)
	vertex.SetProperty(pageRankContributions, previous)

	messenger := &testMessenger{}
	for _, m := range messages {
		messenger.incoming = append(messenger.incoming, m)
	}
	require.NoError(t, p.Execute(vertex, messenger, newTestMemory(2, p.MemoryComputeKeys()...)))
	return vertex, messenger
}

func assertRank(t *testing.T, vertex *graph.Vertex, expected float64) {
	t.Helper()
	rank, ok := vertex.Property(RANK)
	require.True(t, ok)
	if !almostEqual(rank.(float64), expected) {
		t.Errorf("vertex did not update pagerank value correctly: expected %v but got %v", expected, rank)
	}
}

func assertMessageMatches(t *testing.T, message sentMessage, destVertexId uint64, value float64) {
	t.Helper()
	if message.dest != destVertexId {
		t.Errorf("incorrect destination vertex id: expected %v but got %v", destVertexId, message.dest)
	}
	var got float64
	switch v := message.value.(type) {
	case PageRankMessage:
		if v.Source != TEST_VERTEX_ID {
			t.Errorf("incorrect source vertex id: expected %v but got %v", TEST_VERTEX_ID, v.Source)
		}
		got = v.Value
	case float64:
		got = v
	default:
		t.Fatalf("unexpected message type %T", message.value)
	}
	if !almostEqual(got, value) {
		t.Errorf("message has incorrect value: expected %v but got %v", value, got)
	}
}

func TestPageRankConverges(t *testing.T) {
	// 1 -> 0, 2 -> 0, 0 -> 1
	g := edgeGraph(3, [3]float64{1, 0, 1}, [3]float64{2, 0, 1}, [3]float64{0, 1, 1})
	result := run(t, bagel.NewGraphComputer(g).
		Program(NewPageRank(100)).
		MapReduce(NewPropertyMapReduce(RANK)).
		Workers(2))

	ranks, err := result.Memory.Get(RANK)
	require.NoError(t, err)
	byId := ranks.(map[uint64]interface{})
	assert.InDelta(t, 1.4595, byId[0], 0.02)
	assert.InDelta(t, 1.3906, byId[1], 0.02)
	assert.InDelta(t, 0.15, byId[2], 1e-9)
	assert.Less(t, result.Memory.Iteration(), 100)

	for _, v := range result.Graph.Vertices() {
		_, ok := v.Property(pageRankContributions)
		assert.False(t, ok, "contributions are transient")
	}
}

func TestComputeShortestPathOneMessageShouldUpdate(t *testing.T) {
	s := NewShortestPath(0, 99)
	vertex := createNewTestVertex(5, 6)
	vertex.SetProperty(PATH_LENGTH, 10.0)
	messenger := &testMessenger{incoming: []interface{}{3.0}}

	require.NoError(t, s.Execute(vertex, messenger, newTestMemory(1, s.MemoryComputeKeys()...)))
	length, _ := vertex.Property(PATH_LENGTH)
	assert.Equal(t, 3.0, length)
	require.Len(t, messenger.sent, 2)
	assertMessageMatches(t, messenger.sent[0], 5, 4)
	assertMessageMatches(t, messenger.sent[1], 6, 4)
}

func TestComputeShortestPathOneMessageNoUpdate(t *testing.T) {
	s := NewShortestPath(0, 99)
	vertex := createNewTestVertex(5, 6)
	vertex.SetProperty(PATH_LENGTH, 10.0)
	messenger := &testMessenger{incoming: []interface{}{100.0}}

	require.NoError(t, s.Execute(vertex, messenger, newTestMemory(1, s.MemoryComputeKeys()...)))
	length, _ := vertex.Property(PATH_LENGTH)
	assert.Equal(t, 10.0, length)
	assert.Empty(t, messenger.sent)
}

func TestComputeShortestPathMultipleMessagesShouldUpdate(t *testing.T) {
	s := NewShortestPath(0, 99)
	vertex := createNewTestVertex(5, 6, 7)
	vertex.SetProperty(PATH_LENGTH, 10.0)
	messenger := &testMessenger{incoming: []interface{}{12.0, 2.0, 7.0}}

	require.NoError(t, s.Execute(vertex, messenger, newTestMemory(1, s.MemoryComputeKeys()...)))
	length, _ := vertex.Property(PATH_LENGTH)
	assert.Equal(t, 2.0, length)
	require.Len(t, messenger.sent, 3)
	for idx, dest := range []uint64{5, 6, 7} {
		assertMessageMatches(t, messenger.sent[idx], dest, 3)
	}
}

func TestComputeShortestPathDestinationStops(t *testing.T) {
	s := NewShortestPath(0, TEST_VERTEX_ID)
	vertex := createNewTestVertex(5)
	memory := newTestMemory(1, s.MemoryComputeKeys()...)
	messenger := &testMessenger{incoming: []interface{}{4.0}}

	require.NoError(t, s.Execute(vertex, messenger, memory))
	assert.Empty(t, messenger.sent)
	length, err := memory.Get(DESTINATION_LENGTH)
	require.NoError(t, err)
	assert.Equal(t, 4.0, length)
}

func TestShortestPathWeighted(t *testing.T) {
	g := edgeGraph(4,
		[3]float64{0, 1, 1}, [3]float64{1, 3, 1},
		[3]float64{0, 2, 5}, [3]float64{2, 3, 1},
		[3]float64{0, 3, 10},
	)
	program := NewShortestPath(0, 3)
	program.WeightKey = "weight"
	result := run(t, bagel.NewGraphComputer(g).Program(program).Workers(2))

	length, err := result.Memory.Get(DESTINATION_LENGTH)
	require.NoError(t, err)
	assert.Equal(t, 2.0, length)

	lengths := make(map[uint64]interface{})
	for _, v := range result.Graph.Vertices() {
		lengths[v.Id], _ = v.Property(PATH_LENGTH)
	}
	assert.Equal(t, map[uint64]interface{}{0: 0.0, 1: 1.0, 2: 5.0, 3: 2.0}, lengths)
}

func TestCountMapReduce(t *testing.T) {
	g := ringGraph(5)
	g.Vertices()[0].Label = "start"
	result := run(t, bagel.NewGraphComputer(g).
		MapReduce(NewCountMapReduce("")).
		MapReduce(&CountMapReduce{Label: "start", Key: "starts"}).
		Workers(3))

	count, err := result.Memory.Get(COUNT)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	starts, err := result.Memory.Get("starts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), starts)
}

func TestProgramsRoundTripThroughConfiguration(t *testing.T) {
	programs := []bagel.VertexProgram{
		NewReachability(3, 2, graph.IN, "knows"),
		NewPageRank(20),
		&ShortestPath{Source: 1, Destination: 2, WeightKey: "w"},
	}
	for _, program := range programs {
		config := bagel.Configuration{}
		program.StoreState(config)
		created, err := bagel.CreateVertexProgram(config)
		require.NoError(t, err)
		assert.Equal(t, program, created)
	}

	jobs := []bagel.MapReduce{
		NewPropertyMapReduce(RANK),
		NewCountMapReduce("page"),
		NewTraverserMapReduce(),
	}
	for _, job := range jobs {
		config := bagel.Configuration{}
		job.StoreState(config)
		created, err := bagel.CreateMapReduce(config)
		require.NoError(t, err)
		assert.Equal(t, job, created)
	}

	_, err := bagel.CreateVertexProgram(bagel.Configuration{bagel.VERTEX_PROGRAM: REACHABILITY})
	assert.True(t, errors.Is(err, bagel.ErrInstantiation))
	_, err = bagel.CreateVertexProgram(bagel.Configuration{
		bagel.VERTEX_PROGRAM: PAGE_RANK, PAGE_RANK_DAMPING: 1.5,
	})
	assert.True(t, errors.Is(err, bagel.ErrInstantiation))
}
