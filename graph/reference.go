package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	VertexKind Kind = iota + 1
	EdgeKind
)

// Key identifies an element independently of whether it is attached.
type Key struct {
	Kind  Kind
	Id    uint64
	InId  uint64
	Label string
}

func (k Key) String() string {
	if k.Kind == EdgeKind {
		return fmt.Sprintf("e[%d-%s->%d]", k.Id, k.Label, k.InId)
	}
	return fmt.Sprintf("v[%d]", k.Id)
}

// Element is anything with a graph identity: attached vertices and edges and
// their detached references.
type Element interface {
	Key() Key
}

// ReferenceVertex is the detached form of a vertex. It only carries identity
// and can cross process boundaries.
type ReferenceVertex struct {
	Id    uint64
	Label string
}

func (r ReferenceVertex) Key() Key {
	return Key{Kind: VertexKind, Id: r.Id}
}

func (r ReferenceVertex) String() string {
	return r.Key().String()
}

type ReferenceEdge struct {
	Label string
	OutId uint64
	InId  uint64
}

func (r ReferenceEdge) Key() Key {
	return Key{Kind: EdgeKind, Id: r.OutId, InId: r.InId, Label: r.Label}
}

func (r ReferenceEdge) String() string {
	return r.Key().String()
}

var ErrNotFound = errors.New("element not found")

// Resolver resolves detached vertices back to their attached form.
type Resolver interface {
	ResolveVertex(id uint64) (*Vertex, error)
}

// Detach replaces attached elements by their references. Other values are
// returned as is.
func Detach(value interface{}) interface{} {
	switch v := value.(type) {
	case *Vertex:
		return ReferenceVertex{Id: v.Id, Label: v.Label}
	case Vertex:
		return ReferenceVertex{Id: v.Id, Label: v.Label}
	case Edge:
		return ReferenceEdge{Label: v.Label, OutId: v.OutId, InId: v.InId}
	case *Edge:
		return ReferenceEdge{Label: v.Label, OutId: v.OutId, InId: v.InId}
	default:
		return value
	}
}

// Attach resolves references through the resolver. Non element values are
// returned as is.
func Attach(value interface{}, resolver Resolver) (interface{}, error) {
	switch v := value.(type) {
	case ReferenceVertex:
		return resolver.ResolveVertex(v.Id)
	case ReferenceEdge:
		out, err := resolver.ResolveVertex(v.OutId)
		if err != nil {
			return nil, err
		}
		for _, e := range out.OutEdges {
			if e.Label == v.Label && e.InId == v.InId {
				return e, nil
			}
		}
		return nil, errors.Wrapf(ErrNotFound, "edge %v", v)
	default:
		return value, nil
	}
}

// SameElement compares two values by element identity, so a vertex equals
// its reference.
func SameElement(a, b interface{}) (same bool, ok bool) {
	ea, okA := a.(Element)
	eb, okB := b.(Element)
	if !okA || !okB {
		return false, false
	}
	return ea.Key() == eb.Key(), true
}

// VertexResolver resolves from a plain id-indexed map.
type VertexResolver map[uint64]*Vertex

func (r VertexResolver) ResolveVertex(id uint64) (*Vertex, error) {
	if v, ok := r[id]; ok {
		return v, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "vertex %d", id)
}
