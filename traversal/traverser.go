// Package traversal holds the traverser model: a value walking a step
// pipeline together with its multiplicity, loop counter, path, tags and sack.
package traversal

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"graphcomputer/graph"
)

// HALT is the step id of traversers that fell off the end of the pipeline.
const HALT = "halt"

var (
	ErrTraverserMismatch = errors.New("traversers are not equal and cannot be merged")
	ErrSackMerge         = errors.New("sacks cannot be merged without a merge function")
)

type Traverser struct {
	value            interface{}
	stepId           string
	bulk             int64
	loops            int
	path             Path
	tags             map[string]struct{}
	sack             interface{}
	sideEffects      *SideEffects
	onlyLabeledPaths bool
	oneBulk          bool
}

// Generator creates the initial traversers of a traversal.
type Generator struct {
	SideEffects      *SideEffects
	TrackPaths       bool
	OnlyLabeledPaths bool
	OneBulk          bool
}

func (g Generator) Generate(value interface{}, stepId string, bulk int64) *Traverser {
	t := &Traverser{
		value:            value,
		stepId:           stepId,
		bulk:             bulk,
		sideEffects:      g.SideEffects,
		onlyLabeledPaths: g.OnlyLabeledPaths,
		oneBulk:          g.OneBulk,
		path:             EmptyPath,
	}
	if g.OneBulk || bulk < 1 {
		t.bulk = 1
	}
	switch {
	case g.OnlyLabeledPaths:
		t.path = NewPath()
	case g.TrackPaths:
		t.path = NewPath().Extend(value)
	}
	t.sack = g.SideEffects.initialSack()
	return t
}

func (t *Traverser) Get() interface{} {
	return t.value
}

// Set replaces the value without touching the path.
func (t *Traverser) Set(value interface{}) {
	t.value = value
}

func (t *Traverser) StepId() string {
	return t.stepId
}

func (t *Traverser) SetStepId(stepId string) {
	t.stepId = stepId
}

func (t *Traverser) IsHalted() bool {
	return t.stepId == HALT
}

func (t *Traverser) Bulk() int64 {
	return t.bulk
}

func (t *Traverser) SetBulk(bulk int64) {
	if t.oneBulk {
		return
	}
	t.bulk = bulk
}

func (t *Traverser) Loops() int {
	return t.loops
}

func (t *Traverser) IncrLoops() {
	if t.oneBulk {
		return
	}
	t.loops++
}

func (t *Traverser) ResetLoops() {
	t.loops = 0
}

func (t *Traverser) Path() Path {
	return t.path
}

func (t *Traverser) Sack() interface{} {
	return t.sack
}

func (t *Traverser) SetSack(sack interface{}) {
	t.sack = sack
}

func (t *Traverser) SideEffects() *SideEffects {
	return t.sideEffects
}

// SetSideEffects reattaches the shared side effects after the traverser
// crossed a process boundary.
func (t *Traverser) SetSideEffects(sideEffects *SideEffects) {
	t.sideEffects = sideEffects
}

func (t *Traverser) OnlyLabeledPaths() bool {
	return t.onlyLabeledPaths
}

func (t *Traverser) OneBulk() bool {
	return t.oneBulk
}

func (t *Traverser) Tags() []string {
	tags := make([]string, 0, len(t.tags))
	for tag := range t.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (t *Traverser) AddTags(tags ...string) {
	if len(tags) == 0 {
		return
	}
	if t.tags == nil {
		t.tags = make(map[string]struct{}, len(tags))
	}
	for _, tag := range tags {
		t.tags[tag] = struct{}{}
	}
}

// AddLabels records labels for the current value in the path. With labeled
// paths only, nothing happens without labels and labels collapse into the
// newest entry when it already holds the current value.
func (t *Traverser) AddLabels(labels ...string) {
	if t.path.IsEmpty() {
		return
	}
	if t.onlyLabeledPaths {
		if len(labels) == 0 {
			return
		}
		if t.path.Size() > 0 && ValuesEqual(t.path.Head(), t.value) {
			t.path = t.path.ExtendLabels(labels...)
			return
		}
		t.path = t.path.Extend(t.value, labels...)
		return
	}
	t.path = t.path.ExtendLabels(labels...)
}

// Split forks a traverser holding value for step. Path and tags are copied,
// the sack goes through the split function.
func (t *Traverser) Split(value interface{}, step Step) *Traverser {
	clone := t.clone()
	clone.value = value
	if !clone.path.IsEmpty() {
		var labels []string
		if step != nil {
			labels = step.Labels()
		}
		if !t.onlyLabeledPaths || len(labels) > 0 {
			clone.path = clone.path.Extend(value, labels...)
		}
	}
	return clone
}

// Fork splits without changing the value or the step.
func (t *Traverser) Fork() *Traverser {
	return t.clone()
}

func (t *Traverser) clone() *Traverser {
	clone := *t
	clone.path = t.path.Clone()
	if t.tags != nil {
		clone.tags = make(map[string]struct{}, len(t.tags))
		for tag := range t.tags {
			clone.tags[tag] = struct{}{}
		}
	}
	clone.sack = t.sideEffects.splitSack(t.sack)
	return &clone
}

// Mergeable reports whether other could be merged into t without error.
func (t *Traverser) Mergeable(other *Traverser) bool {
	if !t.Equal(other) {
		return false
	}
	return t.sack == nil && other.sack == nil || t.sackMerge(other) != nil
}

func (t *Traverser) sackMerge(other *Traverser) SackMerge {
	if t.sideEffects != nil && t.sideEffects.SackMerge != nil {
		return t.sideEffects.SackMerge
	}
	if other.sideEffects != nil {
		return other.sideEffects.SackMerge
	}
	return nil
}

// Merge folds an equal traverser into t: bulks add up, tags are unioned and
// sacks merged. A sack on either side needs a merge function.
func (t *Traverser) Merge(other *Traverser) error {
	if !t.Equal(other) {
		return errors.Wrapf(ErrTraverserMismatch, "%v and %v", t, other)
	}
	if t.sack != nil || other.sack != nil {
		merge := t.sackMerge(other)
		if merge == nil {
			return errors.WithStack(ErrSackMerge)
		}
		switch {
		case t.sack == nil:
			t.sack = other.sack
		case other.sack != nil:
			t.sack = merge(t.sack, other.sack)
		}
	}
	if !t.oneBulk {
		t.bulk += other.bulk
	}
	for tag := range other.tags {
		t.AddTags(tag)
	}
	return nil
}

// Equal compares value, step, loops and path. Bulk, tags and sack may differ
// between equal traversers.
func (t *Traverser) Equal(other *Traverser) bool {
	if other == nil {
		return false
	}
	return t.stepId == other.stepId &&
		t.loops == other.loops &&
		ValuesEqual(t.value, other.value) &&
		t.path.Equal(other.path)
}

func (t *Traverser) Hash() uint64 {
	d := xxhash.New()
	hashValue(d, t.value)
	fmt.Fprintf(d, "%s|%d|", t.stepId, t.loops)
	hashValue(d, t.path)
	return d.Sum64()
}

// Detach drops live graph handles from the value and the path so the
// traverser can be serialised. Path values are never detached.
func (t *Traverser) Detach() *Traverser {
	if _, isPath := t.value.(Path); !isPath {
		t.value = graph.Detach(t.value)
	}
	if p, ok := t.path.(*MutablePath); ok {
		p.detach()
	}
	return t
}

// Attach resolves the value back to its live form. A Path value is left
// detached.
func (t *Traverser) Attach(resolver graph.Resolver) (interface{}, error) {
	if _, isPath := t.value.(Path); isPath {
		return t.value, nil
	}
	value, err := graph.Attach(t.value, resolver)
	if err != nil {
		return nil, err
	}
	t.value = value
	return value, nil
}

func (t *Traverser) String() string {
	return fmt.Sprintf("%v@%s", t.value, t.stepId)
}

type traverserState struct {
	Value            interface{}
	StepId           string
	Bulk             int64
	Loops            int
	TrackPath        bool
	Path             *MutablePath
	Tags             []string
	Sack             interface{}
	OnlyLabeledPaths bool
	OneBulk          bool
}

func (t *Traverser) GobEncode() ([]byte, error) {
	state := traverserState{
		Value:            t.value,
		StepId:           t.stepId,
		Bulk:             t.bulk,
		Loops:            t.loops,
		Tags:             t.Tags(),
		Sack:             t.sack,
		OnlyLabeledPaths: t.onlyLabeledPaths,
		OneBulk:          t.oneBulk,
	}
	if p, ok := t.path.(*MutablePath); ok {
		state.TrackPath = true
		state.Path = p
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores a traverser without its side effects; callers reattach
// them with SetSideEffects.
func (t *Traverser) GobDecode(data []byte) error {
	var state traverserState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	t.value = state.Value
	t.stepId = state.StepId
	t.bulk = state.Bulk
	t.loops = state.Loops
	t.sack = state.Sack
	t.onlyLabeledPaths = state.OnlyLabeledPaths
	t.oneBulk = state.OneBulk
	t.tags = nil
	t.AddTags(state.Tags...)
	t.path = EmptyPath
	if state.TrackPath {
		if state.Path != nil {
			t.path = state.Path
		} else {
			t.path = NewPath()
		}
	}
	return nil
}

func init() {
	gob.Register(&Traverser{})
	gob.Register([]*Traverser{})
}
