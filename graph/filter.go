package graph

type VertexFilter func(*Vertex) bool

type EdgeFilter func(Edge) bool

// GraphFilter restricts the vertices and edges a computation sees. Label
// lists survive serialisation; the function forms only apply in process.
type GraphFilter struct {
	VertexLabels []string     `json:"vertexLabels,omitempty" yaml:"vertexLabels"`
	EdgeLabels   []string     `json:"edgeLabels,omitempty" yaml:"edgeLabels"`
	Vertices     VertexFilter `json:"-" yaml:"-"`
	Edges        EdgeFilter   `json:"-" yaml:"-"`
}

func (f GraphFilter) IsEmpty() bool {
	return len(f.VertexLabels) == 0 && len(f.EdgeLabels) == 0 && f.Vertices == nil && f.Edges == nil
}

func (f GraphFilter) HasVertexFilter() bool {
	return len(f.VertexLabels) > 0 || f.Vertices != nil
}

func (f GraphFilter) HasEdgeFilter() bool {
	return len(f.EdgeLabels) > 0 || f.Edges != nil
}

func (f GraphFilter) KeepVertex(v *Vertex) bool {
	if len(f.VertexLabels) > 0 && !hasLabel(v.Label, f.VertexLabels) {
		return false
	}
	return f.Vertices == nil || f.Vertices(v)
}

func (f GraphFilter) KeepEdge(e Edge) bool {
	if len(f.EdgeLabels) > 0 && !hasLabel(e.Label, f.EdgeLabels) {
		return false
	}
	return f.Edges == nil || f.Edges(e)
}

// Apply returns a filtered copy of v, or false if v itself is filtered out.
func (f GraphFilter) Apply(v *Vertex) (*Vertex, bool) {
	if !f.KeepVertex(v) {
		return nil, false
	}
	filtered := v.Clone()
	if f.HasEdgeFilter() {
		filtered.OutEdges = f.filterEdges(filtered.OutEdges)
		filtered.InEdges = f.filterEdges(filtered.InEdges)
	}
	return filtered, true
}

func (f GraphFilter) filterEdges(edges []Edge) []Edge {
	var kept []Edge
	for _, e := range edges {
		if f.KeepEdge(e) {
			kept = append(kept, e)
		}
	}
	return kept
}

func HasLabel(labels ...string) VertexFilter {
	return func(v *Vertex) bool { return hasLabel(v.Label, labels) }
}

func HasProperty(key string) VertexFilter {
	return func(v *Vertex) bool {
		_, ok := v.Property(key)
		return ok
	}
}
