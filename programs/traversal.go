package programs

import (
	"github.com/pkg/errors"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/traversal"
)

const (
	TRAVERSAL_NAME    = "traversal.name"
	TRAVERSAL_SOURCES = "traversal.sources"

	// HALTED_TRAVERSERS holds the detached traversers that finished at a
	// vertex.
	HALTED_TRAVERSERS = "traversal.halted"
	traversalActive   = "traversal.active"
)

// TraversalProgram runs a registered traversal as a vertex program. A
// traverser is processed at the vertex it stands on until it halts or a
// vertex step moves it; moved traversers travel as messages.
type TraversalProgram struct {
	Name    string
	Sources []uint64

	traversal *traversal.Traversal
}

func NewTraversalProgram(name string, sources ...uint64) (*TraversalProgram, error) {
	tr, err := traversal.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return &TraversalProgram{Name: name, Sources: sources, traversal: tr}, nil
}

func (p *TraversalProgram) Setup(memory bagel.Memory) error {
	return memory.Set(traversalActive, false)
}

func (p *TraversalProgram) Execute(vertex *graph.Vertex, messenger bagel.Messenger, memory bagel.Memory) error {
	local := traversal.NewTraverserSet()
	if memory.IsInitialIteration() {
		if p.isSource(vertex.Id) {
			local.Add(p.traversal.Generator().Generate(vertex, p.traversal.StartId(), 1))
		}
	} else {
		for _, m := range messenger.ReceiveMessages() {
			t := m.(*traversal.Traverser)
			t.SetSideEffects(p.traversal.SideEffects)
			local.Add(t)
		}
	}
	if local.Len() == 0 {
		return nil
	}

	resolver := graph.VertexResolver{vertex.Id: vertex}
	var halted []*traversal.Traverser
	sent := false
	queue := local.Traversers()
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if t.IsHalted() {
			halted = append(halted, t.Detach())
			continue
		}
		if _, err := t.Attach(resolver); err != nil {
			return errors.Wrapf(err, "traverser at vertex %d", vertex.Id)
		}
		crosses := p.traversal.Crosses(t.StepId())
		outs, err := p.traversal.Apply(t)
		if err != nil {
			return err
		}
		if !crosses {
			queue = append(queue, outs...)
			continue
		}
		for _, o := range outs {
			target, ok := o.Get().(graph.ReferenceVertex)
			if !ok {
				return errors.Errorf("vertex step produced %T", o.Get())
			}
			messenger.SendMessage(target.Id, o.Detach())
			sent = true
		}
	}

	if len(halted) > 0 {
		existing, _ := vertex.Property(HALTED_TRAVERSERS)
		previous, _ := existing.([]*traversal.Traverser)
		all := make([]*traversal.Traverser, 0, len(previous)+len(halted))
		all = append(all, previous...)
		all = append(all, halted...)
		vertex.SetProperty(HALTED_TRAVERSERS, all)
	}
	if sent {
		return memory.Add(traversalActive, true)
	}
	return nil
}

func (p *TraversalProgram) isSource(id uint64) bool {
	if len(p.Sources) == 0 {
		return true
	}
	for _, source := range p.Sources {
		if source == id {
			return true
		}
	}
	return false
}

func (p *TraversalProgram) Terminate(memory bagel.Memory) (bool, error) {
	active, err := changed(memory, traversalActive)
	if err != nil {
		return false, err
	}
	return !active, nil
}

func (p *TraversalProgram) VertexComputeKeys() []bagel.VertexComputeKey {
	return []bagel.VertexComputeKey{{Key: HALTED_TRAVERSERS}}
}

func (p *TraversalProgram) MemoryComputeKeys() []bagel.MemoryComputeKey {
	return []bagel.MemoryComputeKey{
		bagel.NewMemoryComputeKey(traversalActive, bagel.Or, true),
	}
}

// The answer of a traversal is in its halted traversers, which the
// TraverserMapReduce collects from the computed graph.
func (p *TraversalProgram) PreferredResultGraph() bagel.ResultGraph {
	return bagel.ORIGINAL
}

func (p *TraversalProgram) PreferredPersist() bagel.Persist {
	return bagel.NOTHING
}

func (p *TraversalProgram) StoreState(config bagel.Configuration) {
	config[bagel.VERTEX_PROGRAM] = TRAVERSAL
	config[TRAVERSAL_NAME] = p.Name
	if len(p.Sources) > 0 {
		config[TRAVERSAL_SOURCES] = append([]uint64(nil), p.Sources...)
	}
}

func (p *TraversalProgram) LoadState(config bagel.Configuration) error {
	p.Name = config.GetString(TRAVERSAL_NAME, "")
	p.Sources = config.GetUint64s(TRAVERSAL_SOURCES)
	tr, err := traversal.Lookup(p.Name)
	if err != nil {
		return err
	}
	if err := tr.Validate(); err != nil {
		return err
	}
	p.traversal = tr
	return nil
}
