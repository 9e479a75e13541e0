// Package graph holds the vertex records computations run over and the
// partitioned collections that carry them between phases.
package graph

import (
	"encoding/gob"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type Direction int

const (
	OUT Direction = iota
	IN
	BOTH
)

func (d Direction) String() string {
	switch d {
	case OUT:
		return "OUT"
	case IN:
		return "IN"
	default:
		return "BOTH"
	}
}

var ErrDirection = errors.New("unknown direction")

func ParseDirection(direction string) (Direction, error) {
	switch strings.ToUpper(direction) {
	case "OUT", "":
		return OUT, nil
	case "IN":
		return IN, nil
	case "BOTH":
		return BOTH, nil
	}
	return OUT, errors.Wrapf(ErrDirection, "%q", direction)
}

func (d Direction) Opposite() Direction {
	switch d {
	case OUT:
		return IN
	case IN:
		return OUT
	default:
		return BOTH
	}
}

type Edge struct {
	Label      string
	OutId      uint64
	InId       uint64
	Properties map[string]interface{}
}

// Other returns the id at the opposite end of the edge from id.
func (e Edge) Other(id uint64) uint64 {
	if e.OutId == id {
		return e.InId
	}
	return e.OutId
}

func (e Edge) Key() Key {
	return Key{Kind: EdgeKind, Id: e.OutId, InId: e.InId, Label: e.Label}
}

func (e Edge) Clone() Edge {
	e.Properties = cloneProperties(e.Properties)
	return e
}

// Vertex stores a vertex with its adjacency in both directions
type Vertex struct {
	Id         uint64
	Label      string
	Properties map[string]interface{}
	OutEdges   []Edge
	InEdges    []Edge
}

func NewVertex(id uint64, label string) *Vertex {
	return &Vertex{Id: id, Label: label, Properties: make(map[string]interface{})}
}

func (v *Vertex) Key() Key {
	return Key{Kind: VertexKind, Id: v.Id}
}

func (v *Vertex) Property(key string) (interface{}, bool) {
	if v.Properties == nil {
		return nil, false
	}
	value, ok := v.Properties[key]
	return value, ok
}

func (v *Vertex) SetProperty(key string, value interface{}) {
	if v.Properties == nil {
		v.Properties = make(map[string]interface{})
	}
	v.Properties[key] = value
}

func (v *Vertex) RemoveProperty(key string) {
	delete(v.Properties, key)
}

func (v *Vertex) PropertyKeys() []string {
	keys := make([]string, 0, len(v.Properties))
	for k := range v.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddEdge adds an OUT edge on v. The matching IN edge has to be added on the
// other vertex with AddInEdge.
func (v *Vertex) AddEdge(label string, inId uint64, properties map[string]interface{}) Edge {
	edge := Edge{Label: label, OutId: v.Id, InId: inId, Properties: properties}
	v.OutEdges = append(v.OutEdges, edge)
	return edge
}

func (v *Vertex) AddInEdge(label string, outId uint64, properties map[string]interface{}) Edge {
	edge := Edge{Label: label, OutId: outId, InId: v.Id, Properties: properties}
	v.InEdges = append(v.InEdges, edge)
	return edge
}

// Edges returns the edges in the given direction, restricted to labels when
// any are given.
func (v *Vertex) Edges(direction Direction, labels ...string) []Edge {
	var edges []Edge
	if direction == OUT || direction == BOTH {
		for _, e := range v.OutEdges {
			if hasLabel(e.Label, labels) {
				edges = append(edges, e)
			}
		}
	}
	if direction == IN || direction == BOTH {
		for _, e := range v.InEdges {
			if hasLabel(e.Label, labels) {
				edges = append(edges, e)
			}
		}
	}
	return edges
}

func (v *Vertex) Neighbors(direction Direction, labels ...string) []uint64 {
	edges := v.Edges(direction, labels...)
	neighbors := make([]uint64, len(edges))
	for idx, e := range edges {
		neighbors[idx] = e.Other(v.Id)
	}
	return neighbors
}

func (v *Vertex) Degree(direction Direction) int {
	return len(v.Edges(direction))
}

func (v *Vertex) DropEdges() {
	v.OutEdges = nil
	v.InEdges = nil
}

func (v *Vertex) Clone() *Vertex {
	clone := &Vertex{
		Id:         v.Id,
		Label:      v.Label,
		Properties: cloneProperties(v.Properties),
	}
	if v.OutEdges != nil {
		clone.OutEdges = make([]Edge, len(v.OutEdges))
		for idx, e := range v.OutEdges {
			clone.OutEdges[idx] = e.Clone()
		}
	}
	if v.InEdges != nil {
		clone.InEdges = make([]Edge, len(v.InEdges))
		for idx, e := range v.InEdges {
			clone.InEdges[idx] = e.Clone()
		}
	}
	return clone
}

func hasLabel(label string, labels []string) bool {
	if len(labels) == 0 {
		return true
	}
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func cloneProperties(properties map[string]interface{}) map[string]interface{} {
	if properties == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		clone[k] = v
	}
	return clone
}

func init() {
	gob.Register(ReferenceVertex{})
	gob.Register(ReferenceEdge{})
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}
