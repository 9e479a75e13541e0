package traversal

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"strings"

	"graphcomputer/graph"
)

// Path is the history of objects a traverser went through, each with the
// labels of the steps that produced it.
type Path interface {
	// Extend appends a new entry.
	Extend(object interface{}, labels ...string) Path
	// ExtendLabels adds labels to the newest entry.
	ExtendLabels(labels ...string) Path
	Size() int
	Objects() []interface{}
	Labels() [][]string
	Head() interface{}
	// Get returns the newest object carrying label.
	Get(label string) (interface{}, bool)
	HasLabel(label string) bool
	Clone() Path
	Truncate(size int) Path
	Equal(other Path) bool
	IsEmpty() bool
}

// MutablePath grows in place. Clone before sharing.
type MutablePath struct {
	objects []interface{}
	labels  [][]string
}

func NewPath() *MutablePath {
	return &MutablePath{}
}

func (p *MutablePath) Extend(object interface{}, labels ...string) Path {
	p.objects = append(p.objects, object)
	p.labels = append(p.labels, addLabels(nil, labels))
	return p
}

func (p *MutablePath) ExtendLabels(labels ...string) Path {
	if len(p.objects) == 0 || len(labels) == 0 {
		return p
	}
	last := len(p.labels) - 1
	p.labels[last] = addLabels(p.labels[last], labels)
	return p
}

func (p *MutablePath) Size() int {
	return len(p.objects)
}

func (p *MutablePath) Objects() []interface{} {
	return append([]interface{}(nil), p.objects...)
}

func (p *MutablePath) Labels() [][]string {
	labels := make([][]string, len(p.labels))
	for idx, l := range p.labels {
		labels[idx] = append([]string(nil), l...)
	}
	return labels
}

func (p *MutablePath) Head() interface{} {
	if len(p.objects) == 0 {
		return nil
	}
	return p.objects[len(p.objects)-1]
}

func (p *MutablePath) Get(label string) (interface{}, bool) {
	for idx := len(p.labels) - 1; idx >= 0; idx-- {
		if containsLabel(p.labels[idx], label) {
			return p.objects[idx], true
		}
	}
	return nil, false
}

func (p *MutablePath) HasLabel(label string) bool {
	_, ok := p.Get(label)
	return ok
}

func (p *MutablePath) Clone() Path {
	return &MutablePath{objects: p.Objects(), labels: p.Labels()}
}

func (p *MutablePath) Truncate(size int) Path {
	if size < 0 {
		size = 0
	}
	if size < len(p.objects) {
		p.objects = p.objects[:size]
		p.labels = p.labels[:size]
	}
	return p
}

func (p *MutablePath) Equal(other Path) bool {
	if other == nil || other.IsEmpty() && !p.IsEmpty() {
		return false
	}
	if p.Size() != other.Size() {
		return false
	}
	otherObjects := other.Objects()
	otherLabels := other.Labels()
	for idx := range p.objects {
		if !ValuesEqual(p.objects[idx], otherObjects[idx]) {
			return false
		}
		if strings.Join(p.labels[idx], ",") != strings.Join(otherLabels[idx], ",") {
			return false
		}
	}
	return true
}

func (p *MutablePath) IsEmpty() bool {
	return false
}

func (p *MutablePath) String() string {
	parts := make([]string, len(p.objects))
	for idx, o := range p.objects {
		parts[idx] = fmt.Sprint(o)
	}
	return "path[" + strings.Join(parts, ", ") + "]"
}

// detach replaces the objects of the path with their detached forms.
func (p *MutablePath) detach() {
	for idx, o := range p.objects {
		p.objects[idx] = graph.Detach(o)
	}
}

type pathEntry struct {
	Object interface{}
	Labels []string
}

func (p *MutablePath) GobEncode() ([]byte, error) {
	entries := make([]pathEntry, len(p.objects))
	for idx := range p.objects {
		entries[idx] = pathEntry{Object: p.objects[idx], Labels: p.labels[idx]}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *MutablePath) GobDecode(data []byte) error {
	var entries []pathEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return err
	}
	p.objects = make([]interface{}, len(entries))
	p.labels = make([][]string, len(entries))
	for idx, e := range entries {
		p.objects[idx] = e.Object
		p.labels[idx] = e.Labels
	}
	return nil
}

type emptyPath struct{}

// EmptyPath is used when paths are not tracked. Every operation is a no-op.
var EmptyPath Path = emptyPath{}

func (e emptyPath) Extend(interface{}, ...string) Path { return e }
func (e emptyPath) ExtendLabels(...string) Path        { return e }
func (emptyPath) Size() int                            { return 0 }
func (emptyPath) Objects() []interface{}               { return nil }
func (emptyPath) Labels() [][]string                   { return nil }
func (emptyPath) Head() interface{}                    { return nil }
func (emptyPath) Get(string) (interface{}, bool)       { return nil, false }
func (emptyPath) HasLabel(string) bool                 { return false }
func (e emptyPath) Clone() Path                        { return e }
func (e emptyPath) Truncate(int) Path                  { return e }
func (emptyPath) IsEmpty() bool                        { return true }
func (emptyPath) String() string                       { return "path[]" }

func (emptyPath) Equal(other Path) bool {
	return other != nil && other.IsEmpty()
}

func addLabels(set []string, labels []string) []string {
	for _, l := range labels {
		if !containsLabel(set, l) {
			set = append(set, l)
		}
	}
	sort.Strings(set)
	return set
}

func containsLabel(set []string, label string) bool {
	for _, l := range set {
		if l == label {
			return true
		}
	}
	return false
}

func init() {
	gob.Register(&MutablePath{})
}
