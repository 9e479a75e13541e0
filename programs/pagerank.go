package programs

import (
	"math"

	"github.com/pkg/errors"

	"graphcomputer/bagel"
	"graphcomputer/graph"
)

const (
	PAGE_RANK_DAMPING        = "pageRank.damping"
	PAGE_RANK_EPSILON        = "pageRank.epsilon"
	PAGE_RANK_MAX_ITERATIONS = "pageRank.maxIterations"

	// RANK is the page rank of a vertex.
	RANK                  = "pageRank.rank"
	pageRankContributions = "pageRank.contributions"
	pageRankActive        = "pageRank.active"
)

const (
	DEFAULT_DAMPING = 0.85
	// EPSILON is the change below which a vertex stops sending its rank.
	EPSILON = 1e-3
)

// PageRankMessage carries the share of rank a vertex gives each of its out
// neighbours. Only the latest share of each source counts.
type PageRankMessage struct {
	Source uint64
	Value  float64
}

type PageRank struct {
	Damping       float64
	Epsilon       float64
	MaxIterations int
}

func NewPageRank(maxIterations int) *PageRank {
	return &PageRank{Damping: DEFAULT_DAMPING, Epsilon: EPSILON, MaxIterations: maxIterations}
}

func (p *PageRank) Setup(memory bagel.Memory) error {
	return memory.Set(pageRankActive, false)
}

func (p *PageRank) Execute(vertex *graph.Vertex, messenger bagel.Messenger, memory bagel.Memory) error {
	if memory.IsInitialIteration() {
		vertex.SetProperty(RANK, 1.0)
		vertex.SetProperty(pageRankContributions, map[uint64]float64{})
		return p.sendRank(vertex, messenger, memory, 1.0)
	}

	// every vertex recomputes once, later only on new shares
	messages := messenger.ReceiveMessages()
	if len(messages) == 0 && memory.Iteration() > 1 {
		return nil
	}

	previous, _ := vertex.Property(pageRankContributions)
	previousShares, _ := previous.(map[uint64]float64)
	contributions := make(map[uint64]float64, len(previousShares))
	for source, value := range previousShares {
		contributions[source] = value
	}
	for _, m := range messages {
		message := m.(PageRankMessage)
		contributions[message.Source] = message.Value
	}
	vertex.SetProperty(pageRankContributions, contributions)

	sum := 0.0
	for _, value := range contributions {
		sum += value
	}
	rank := (1 - p.Damping) + p.Damping*sum
	current, _ := vertex.Property(RANK)
	if math.Abs(rank-current.(float64)) < p.Epsilon {
		return nil
	}
	vertex.SetProperty(RANK, rank)
	return p.sendRank(vertex, messenger, memory, rank)
}

func (p *PageRank) sendRank(vertex *graph.Vertex, messenger bagel.Messenger, memory bagel.Memory, rank float64) error {
	neighbors := vertex.Neighbors(graph.OUT)
	if len(neighbors) == 0 {
		return nil
	}
	share := rank / float64(len(neighbors))
	for _, id := range neighbors {
		messenger.SendMessage(id, PageRankMessage{Source: vertex.Id, Value: share})
	}
	return memory.Add(pageRankActive, true)
}

func (p *PageRank) Terminate(memory bagel.Memory) (bool, error) {
	active, err := changed(memory, pageRankActive)
	if err != nil {
		return false, err
	}
	return !active || (p.MaxIterations > 0 && memory.Iteration() >= p.MaxIterations), nil
}

func (p *PageRank) VertexComputeKeys() []bagel.VertexComputeKey {
	return []bagel.VertexComputeKey{
		{Key: RANK},
		{Key: pageRankContributions, IsTransient: true},
	}
}

func (p *PageRank) MemoryComputeKeys() []bagel.MemoryComputeKey {
	return []bagel.MemoryComputeKey{
		bagel.NewMemoryComputeKey(pageRankActive, bagel.Or, true),
	}
}

func (p *PageRank) PreferredResultGraph() bagel.ResultGraph {
	return bagel.NEW
}

func (p *PageRank) PreferredPersist() bagel.Persist {
	return bagel.VERTEX_PROPERTIES
}

func (p *PageRank) StoreState(config bagel.Configuration) {
	config[bagel.VERTEX_PROGRAM] = PAGE_RANK
	config[PAGE_RANK_DAMPING] = p.Damping
	config[PAGE_RANK_EPSILON] = p.Epsilon
	config[PAGE_RANK_MAX_ITERATIONS] = p.MaxIterations
}

func (p *PageRank) LoadState(config bagel.Configuration) error {
	p.Damping = config.GetFloat64(PAGE_RANK_DAMPING, DEFAULT_DAMPING)
	p.Epsilon = config.GetFloat64(PAGE_RANK_EPSILON, EPSILON)
	p.MaxIterations = config.GetInt(PAGE_RANK_MAX_ITERATIONS, 30)
	if p.Damping <= 0 || p.Damping >= 1 {
		return errors.Errorf("%s must be in (0, 1), got %v", PAGE_RANK_DAMPING, p.Damping)
	}
	return nil
}
