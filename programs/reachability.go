package programs

import (
	"github.com/pkg/errors"

	"graphcomputer/bagel"
	"graphcomputer/graph"
)

const (
	REACHABILITY_SOURCE      = "reachability.source"
	REACHABILITY_MAX_HOPS    = "reachability.maxHops"
	REACHABILITY_DIRECTION   = "reachability.direction"
	REACHABILITY_EDGE_LABELS = "reachability.edgeLabels"

	// DISTANCE is the hop count from the source.
	DISTANCE            = "reachability.distance"
	reachabilityChanged = "reachability.changed"
)

// Reachability computes the hop distance from a source vertex to every
// vertex within MaxHops. The first superstep pulls the source's neighbours
// in directly, so k hops take k supersteps.
type Reachability struct {
	Source     uint64
	MaxHops    int
	Direction  graph.Direction
	EdgeLabels []string
}

func NewReachability(source uint64, maxHops int, direction graph.Direction, edgeLabels ...string) *Reachability {
	return &Reachability{Source: source, MaxHops: maxHops, Direction: direction, EdgeLabels: edgeLabels}
}

func (r *Reachability) Setup(memory bagel.Memory) error {
	return memory.Set(reachabilityChanged, false)
}

func (r *Reachability) Execute(vertex *graph.Vertex, messenger bagel.Messenger, memory bagel.Memory) error {
	var distance int
	if memory.IsInitialIteration() {
		switch {
		case vertex.Id == r.Source:
			distance = 0
		case r.MaxHops > 0 && r.adjacentToSource(vertex):
			distance = 1
		default:
			return nil
		}
	} else {
		messages := messenger.ReceiveMessages()
		if len(messages) == 0 {
			return nil
		}
		distance = messages[0].(int)
		for _, m := range messages[1:] {
			if d := m.(int); d < distance {
				distance = d
			}
		}
		if current, ok := vertex.Property(DISTANCE); ok && current.(int) <= distance {
			return nil
		}
	}

	vertex.SetProperty(DISTANCE, distance)
	if err := memory.Add(reachabilityChanged, true); err != nil {
		return err
	}
	if distance < r.MaxHops {
		for _, id := range vertex.Neighbors(r.Direction, r.EdgeLabels...) {
			messenger.SendMessage(id, distance+1)
		}
	}
	return nil
}

// adjacentToSource looks for the source on the opposite side of the
// traversal direction.
func (r *Reachability) adjacentToSource(vertex *graph.Vertex) bool {
	for _, id := range vertex.Neighbors(r.Direction.Opposite(), r.EdgeLabels...) {
		if id == r.Source {
			return true
		}
	}
	return false
}

func (r *Reachability) Terminate(memory bagel.Memory) (bool, error) {
	wasChanged, err := changed(memory, reachabilityChanged)
	if err != nil {
		return false, err
	}
	return memory.Iteration() >= r.MaxHops || !wasChanged, nil
}

func (r *Reachability) CombineMessages(a, b interface{}) interface{} {
	if b.(int) < a.(int) {
		return b
	}
	return a
}

func (r *Reachability) VertexComputeKeys() []bagel.VertexComputeKey {
	return []bagel.VertexComputeKey{{Key: DISTANCE}}
}

func (r *Reachability) MemoryComputeKeys() []bagel.MemoryComputeKey {
	return []bagel.MemoryComputeKey{
		bagel.NewMemoryComputeKey(reachabilityChanged, bagel.Or, true),
	}
}

func (r *Reachability) PreferredResultGraph() bagel.ResultGraph {
	return bagel.NEW
}

func (r *Reachability) PreferredPersist() bagel.Persist {
	return bagel.VERTEX_PROPERTIES
}

func (r *Reachability) StoreState(config bagel.Configuration) {
	config[bagel.VERTEX_PROGRAM] = REACHABILITY
	config[REACHABILITY_SOURCE] = r.Source
	config[REACHABILITY_MAX_HOPS] = r.MaxHops
	config[REACHABILITY_DIRECTION] = r.Direction.String()
	if len(r.EdgeLabels) > 0 {
		config[REACHABILITY_EDGE_LABELS] = append([]string(nil), r.EdgeLabels...)
	}
}

func (r *Reachability) LoadState(config bagel.Configuration) error {
	if !config.Has(REACHABILITY_SOURCE) {
		return errors.Errorf("%s is required", REACHABILITY_SOURCE)
	}
	direction, err := graph.ParseDirection(config.GetString(REACHABILITY_DIRECTION, ""))
	if err != nil {
		return err
	}
	r.Source = config.GetUint64(REACHABILITY_SOURCE, 0)
	r.MaxHops = config.GetInt(REACHABILITY_MAX_HOPS, 1)
	r.Direction = direction
	r.EdgeLabels = config.GetStrings(REACHABILITY_EDGE_LABELS)
	if r.MaxHops < 0 {
		return errors.Errorf("%s must not be negative", REACHABILITY_MAX_HOPS)
	}
	return nil
}
