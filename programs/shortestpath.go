package programs

import (
	"math"

	"github.com/pkg/errors"

	"graphcomputer/bagel"
	"graphcomputer/graph"
)

const (
	SHORTEST_PATH_SOURCE      = "shortestPath.source"
	SHORTEST_PATH_DEST        = "shortestPath.destination"
	SHORTEST_PATH_WEIGHT      = "shortestPath.weightKey"
	SHORTEST_PATH_EDGE_LABELS = "shortestPath.edgeLabels"

	// PATH_LENGTH is the length of the shortest path from the source.
	PATH_LENGTH = "shortestPath.length"
	// DESTINATION_LENGTH is the memory key holding the distance to the
	// destination once it was reached.
	DESTINATION_LENGTH  = "shortestPath.destinationLength"
	shortestPathChanged = "shortestPath.changed"
)

// ShortestPath computes single source shortest paths along out edges.
// Edges are weighted by WeightKey, or count 1 when it is unset or missing.
// Paths are not extended past the destination.
type ShortestPath struct {
	Source      uint64
	Destination uint64
	WeightKey   string
	EdgeLabels  []string
}

func NewShortestPath(source, destination uint64) *ShortestPath {
	return &ShortestPath{Source: source, Destination: destination}
}

func (s *ShortestPath) Setup(memory bagel.Memory) error {
	return memory.Set(shortestPathChanged, false)
}

func (s *ShortestPath) Execute(vertex *graph.Vertex, messenger bagel.Messenger, memory bagel.Memory) error {
	var length float64
	if memory.IsInitialIteration() {
		if vertex.Id != s.Source {
			return nil
		}
		length = 0
	} else {
		messages := messenger.ReceiveMessages()
		if len(messages) == 0 {
			return nil
		}
		length = math.Inf(1)
		for _, m := range messages {
			length = math.Min(length, m.(float64))
		}
		if current, ok := vertex.Property(PATH_LENGTH); ok && current.(float64) <= length {
			return nil
		}
	}

	vertex.SetProperty(PATH_LENGTH, length)
	if err := memory.Add(shortestPathChanged, true); err != nil {
		return err
	}
	if vertex.Id == s.Destination {
		return memory.Add(DESTINATION_LENGTH, length)
	}
	for _, e := range vertex.Edges(graph.OUT, s.EdgeLabels...) {
		messenger.SendMessage(e.InId, length+s.weight(e))
	}
	return nil
}

func (s *ShortestPath) weight(e graph.Edge) float64 {
	if s.WeightKey == "" {
		return 1
	}
	switch w := e.Properties[s.WeightKey].(type) {
	case float64:
		return w
	case int:
		return float64(w)
	case int64:
		return float64(w)
	}
	return 1
}

func (s *ShortestPath) Terminate(memory bagel.Memory) (bool, error) {
	wasChanged, err := changed(memory, shortestPathChanged)
	if err != nil {
		return false, err
	}
	return !wasChanged, nil
}

func (s *ShortestPath) CombineMessages(a, b interface{}) interface{} {
	return math.Min(a.(float64), b.(float64))
}

func (s *ShortestPath) VertexComputeKeys() []bagel.VertexComputeKey {
	return []bagel.VertexComputeKey{{Key: PATH_LENGTH}}
}

func (s *ShortestPath) MemoryComputeKeys() []bagel.MemoryComputeKey {
	return []bagel.MemoryComputeKey{
		bagel.NewMemoryComputeKey(DESTINATION_LENGTH, bagel.Min, false),
		bagel.NewMemoryComputeKey(shortestPathChanged, bagel.Or, true),
	}
}

func (s *ShortestPath) StoreState(config bagel.Configuration) {
	config[bagel.VERTEX_PROGRAM] = SHORTEST_PATH
	config[SHORTEST_PATH_SOURCE] = s.Source
	config[SHORTEST_PATH_DEST] = s.Destination
	if s.WeightKey != "" {
		config[SHORTEST_PATH_WEIGHT] = s.WeightKey
	}
	if len(s.EdgeLabels) > 0 {
		config[SHORTEST_PATH_EDGE_LABELS] = append([]string(nil), s.EdgeLabels...)
	}
}

func (s *ShortestPath) LoadState(config bagel.Configuration) error {
	if !config.Has(SHORTEST_PATH_SOURCE) || !config.Has(SHORTEST_PATH_DEST) {
		return errors.Errorf("%s and %s are required", SHORTEST_PATH_SOURCE, SHORTEST_PATH_DEST)
	}
	s.Source = config.GetUint64(SHORTEST_PATH_SOURCE, 0)
	s.Destination = config.GetUint64(SHORTEST_PATH_DEST, 0)
	s.WeightKey = config.GetString(SHORTEST_PATH_WEIGHT, "")
	s.EdgeLabels = config.GetStrings(SHORTEST_PATH_EDGE_LABELS)
	return nil
}
