package traversal

import (
	"fmt"

	"github.com/pkg/errors"

	"graphcomputer/graph"
)

var (
	ErrNotAttached      = errors.New("step requires an attached vertex")
	ErrInvalidTraversal = errors.New("invalid traversal")
)

// Step is one stage of a traversal pipeline. Process returns the traversers
// leaving the step; the pipeline moves those still on the step to the next
// one.
type Step interface {
	Id() string
	Labels() []string
	Process(t *Traverser) ([]*Traverser, error)
	base() *stepBase
}

type stepBase struct {
	id     string
	labels []string
}

func (s *stepBase) Id() string {
	return s.id
}

func (s *stepBase) Labels() []string {
	return s.labels
}

func (s *stepBase) base() *stepBase {
	return s
}

// As labels a step. Labels end up in the path of the traversers leaving it.
func As(step Step, labels ...string) Step {
	step.base().labels = append(step.base().labels, labels...)
	return step
}

func attachedVertex(t *Traverser) (*graph.Vertex, error) {
	v, ok := t.Get().(*graph.Vertex)
	if !ok {
		return nil, errors.Wrapf(ErrNotAttached, "got %T", t.Get())
	}
	return v, nil
}

// VertexStep moves traversers to adjacent vertices. The new values are
// detached references, resolved by whoever owns the target vertex.
type VertexStep struct {
	stepBase
	Direction  graph.Direction
	EdgeLabels []string
}

func Out(edgeLabels ...string) *VertexStep {
	return &VertexStep{Direction: graph.OUT, EdgeLabels: edgeLabels}
}

func In(edgeLabels ...string) *VertexStep {
	return &VertexStep{Direction: graph.IN, EdgeLabels: edgeLabels}
}

func Both(edgeLabels ...string) *VertexStep {
	return &VertexStep{Direction: graph.BOTH, EdgeLabels: edgeLabels}
}

func (s *VertexStep) Process(t *Traverser) ([]*Traverser, error) {
	v, err := attachedVertex(t)
	if err != nil {
		return nil, err
	}
	neighbors := v.Neighbors(s.Direction, s.EdgeLabels...)
	outs := make([]*Traverser, len(neighbors))
	for idx, id := range neighbors {
		outs[idx] = t.Split(graph.ReferenceVertex{Id: id}, s)
	}
	return outs, nil
}

type FilterStep struct {
	stepBase
	Predicate func(t *Traverser) bool
}

func Filter(predicate func(t *Traverser) bool) *FilterStep {
	return &FilterStep{Predicate: predicate}
}

// Has keeps vertices whose property key equals value.
func Has(key string, value interface{}) *FilterStep {
	return Filter(func(t *Traverser) bool {
		v, ok := t.Get().(*graph.Vertex)
		if !ok {
			return false
		}
		property, ok := v.Property(key)
		return ok && ValuesEqual(property, value)
	})
}

func HasLabel(labels ...string) *FilterStep {
	return Filter(func(t *Traverser) bool {
		v, ok := t.Get().(*graph.Vertex)
		if !ok {
			return false
		}
		for _, l := range labels {
			if v.Label == l {
				return true
			}
		}
		return false
	})
}

// SimplePath drops traversers that visit an element twice.
func SimplePath() *FilterStep {
	return Filter(func(t *Traverser) bool {
		seen := make(map[string]struct{})
		for _, o := range t.Path().Objects() {
			key := fmt.Sprint(graph.Detach(o))
			if _, ok := seen[key]; ok {
				return false
			}
			seen[key] = struct{}{}
		}
		return true
	})
}

func (s *FilterStep) Process(t *Traverser) ([]*Traverser, error) {
	if s.Predicate(t) {
		return []*Traverser{t}, nil
	}
	return nil, nil
}

// MapStep replaces the value of each traverser. A nil result filters the
// traverser out.
type MapStep struct {
	stepBase
	Fn func(t *Traverser) interface{}
}

func Map(fn func(t *Traverser) interface{}) *MapStep {
	return &MapStep{Fn: fn}
}

func Values(key string) *MapStep {
	return Map(func(t *Traverser) interface{} {
		v, ok := t.Get().(*graph.Vertex)
		if !ok {
			return nil
		}
		value, _ := v.Property(key)
		return value
	})
}

func VertexId() *MapStep {
	return Map(func(t *Traverser) interface{} {
		if e, ok := t.Get().(graph.Element); ok {
			return e.Key().Id
		}
		return nil
	})
}

// PathValue maps each traverser to a copy of its path.
func PathValue() *MapStep {
	return Map(func(t *Traverser) interface{} {
		return t.Path().Clone()
	})
}

func (s *MapStep) Process(t *Traverser) ([]*Traverser, error) {
	value := s.Fn(t)
	if value == nil {
		return nil, nil
	}
	return []*Traverser{t.Split(graph.Detach(value), s)}, nil
}

// SackStep folds the current value into the sack.
type SackStep struct {
	stepBase
	Fn func(sack interface{}, value interface{}) interface{}
}

func Sack(fn func(sack interface{}, value interface{}) interface{}) *SackStep {
	return &SackStep{Fn: fn}
}

func (s *SackStep) Process(t *Traverser) ([]*Traverser, error) {
	t.SetSack(s.Fn(t.Sack(), t.Get()))
	return []*Traverser{t}, nil
}

type IdentityStep struct {
	stepBase
}

func Identity() *IdentityStep {
	return &IdentityStep{}
}

func (s *IdentityStep) Process(t *Traverser) ([]*Traverser, error) {
	return []*Traverser{t}, nil
}

// RepeatStep is compiled into its body followed by a loop end that jumps
// back to the start of the body.
type RepeatStep struct {
	stepBase
	Body  []Step
	Times int
	Until func(t *Traverser) bool
	Emit  bool
}

func Repeat(times int, body ...Step) *RepeatStep {
	return &RepeatStep{Body: body, Times: times}
}

func RepeatUntil(until func(t *Traverser) bool, body ...Step) *RepeatStep {
	return &RepeatStep{Body: body, Until: until}
}

// Emitting makes every iteration also emit its traversers past the loop.
func (s *RepeatStep) Emitting() *RepeatStep {
	s.Emit = true
	return s
}

func (s *RepeatStep) Process(*Traverser) ([]*Traverser, error) {
	return nil, errors.Wrap(ErrInvalidTraversal, "repeat step was not compiled")
}

type repeatEndStep struct {
	stepBase
	startId string
	times   int
	until   func(t *Traverser) bool
	emit    bool
	body    int
}

func (s *repeatEndStep) Process(t *Traverser) ([]*Traverser, error) {
	t.IncrLoops()
	if (s.times > 0 && t.Loops() >= s.times) || (s.until != nil && s.until(t)) {
		t.ResetLoops()
		return []*Traverser{t}, nil
	}
	var outs []*Traverser
	if s.emit {
		emitted := t.Fork()
		emitted.ResetLoops()
		outs = append(outs, emitted)
	}
	t.SetStepId(s.startId)
	return append(outs, t), nil
}
