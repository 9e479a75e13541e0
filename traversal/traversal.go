package traversal

import (
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Traversal is a compiled step pipeline plus the traverser requirements it
// runs with.
type Traversal struct {
	Name             string
	Steps            []Step
	SideEffects      *SideEffects
	TrackPaths       bool
	OnlyLabeledPaths bool
	OneBulk          bool

	index map[string]int
}

// New compiles steps into a flat pipeline. Repeat steps become their body
// followed by a loop end.
func New(steps ...Step) *Traversal {
	tr := &Traversal{SideEffects: NewSideEffects()}
	tr.Steps = tr.compile(steps)
	tr.index = make(map[string]int, len(tr.Steps))
	for idx, s := range tr.Steps {
		if s.Id() == "" {
			s.base().id = strconv.Itoa(idx)
		}
		tr.index[s.Id()] = idx
	}
	for _, s := range tr.Steps {
		if end, ok := s.(*repeatEndStep); ok && end.startId == "" {
			end.startId = tr.Steps[tr.index[end.id]-end.body].Id()
		}
	}
	return tr
}

func (tr *Traversal) compile(steps []Step) []Step {
	var compiled []Step
	for _, s := range steps {
		repeat, ok := s.(*RepeatStep)
		if !ok {
			compiled = append(compiled, s)
			continue
		}
		body := tr.compile(repeat.Body)
		compiled = append(compiled, body...)
		compiled = append(compiled, &repeatEndStep{
			stepBase: stepBase{labels: repeat.labels},
			times:    repeat.Times,
			until:    repeat.Until,
			emit:     repeat.Emit,
			body:     len(body),
		})
	}
	return compiled
}

func (tr *Traversal) WithPaths() *Traversal {
	tr.TrackPaths = true
	return tr
}

func (tr *Traversal) WithLabeledPaths() *Traversal {
	tr.OnlyLabeledPaths = true
	return tr
}

func (tr *Traversal) WithOneBulk() *Traversal {
	tr.OneBulk = true
	return tr
}

func (tr *Traversal) WithSack(initial SackInitial, split SackSplit, merge SackMerge) *Traversal {
	tr.SideEffects.WithSack(initial, split, merge)
	return tr
}

// Validate rejects pipelines the traverser model cannot run.
func (tr *Traversal) Validate() error {
	for _, s := range tr.Steps {
		if _, ok := s.(*repeatEndStep); ok && tr.OneBulk {
			return errors.Wrap(ErrInvalidTraversal, "one bulk mode does not track loops")
		}
		if end, ok := s.(*repeatEndStep); ok && end.times <= 0 && end.until == nil {
			return errors.Wrap(ErrInvalidTraversal, "repeat needs times or until")
		}
		if end, ok := s.(*repeatEndStep); ok && end.body == 0 {
			return errors.Wrap(ErrInvalidTraversal, "repeat has an empty body")
		}
	}
	return nil
}

func (tr *Traversal) Generator() Generator {
	return Generator{
		SideEffects:      tr.SideEffects,
		TrackPaths:       tr.TrackPaths,
		OnlyLabeledPaths: tr.OnlyLabeledPaths,
		OneBulk:          tr.OneBulk,
	}
}

func (tr *Traversal) StartId() string {
	if len(tr.Steps) == 0 {
		return HALT
	}
	return tr.Steps[0].Id()
}

func (tr *Traversal) Step(id string) (Step, bool) {
	idx, ok := tr.index[id]
	if !ok {
		return nil, false
	}
	return tr.Steps[idx], true
}

func (tr *Traversal) NextId(id string) string {
	idx, ok := tr.index[id]
	if !ok || idx+1 >= len(tr.Steps) {
		return HALT
	}
	return tr.Steps[idx+1].Id()
}

// Apply runs the step a traverser is on and moves the traversers leaving it
// to their next step.
func (tr *Traversal) Apply(t *Traverser) ([]*Traverser, error) {
	step, ok := tr.Step(t.StepId())
	if !ok {
		return nil, errors.Wrapf(ErrInvalidTraversal, "unknown step %q", t.StepId())
	}
	outs, err := step.Process(t)
	if err != nil {
		return nil, errors.Wrapf(err, "step %s", step.Id())
	}
	for _, o := range outs {
		o.AddLabels(step.Labels()...)
		if o.StepId() == step.Id() {
			o.SetStepId(tr.NextId(step.Id()))
		}
	}
	return outs, nil
}

// Crosses reports whether the step moves traversers to other vertices.
func (tr *Traversal) Crosses(stepId string) bool {
	step, ok := tr.Step(stepId)
	if !ok {
		return false
	}
	_, ok = step.(*VertexStep)
	return ok
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() *Traversal)
)

// Register makes a traversal reconstructible by name, which is how it
// reaches workers that cannot receive functions.
func Register(name string, factory func() *Traversal) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

var ErrUnknownTraversal = errors.New("unknown traversal")

func Lookup(name string) (*Traversal, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTraversal, "%q", name)
	}
	tr := factory()
	tr.Name = name
	return tr, nil
}

func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
