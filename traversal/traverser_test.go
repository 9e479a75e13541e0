package traversal

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphcomputer/graph"
)

func sumSacks(a, b interface{}) interface{} {
	return a.(float64) + b.(float64)
}

func TestMergeSumsBulkAndUnionsTags(t *testing.T) {
	assert := assert.New(t)
	g := Generator{}
	a := g.Generate("v", "1", 2)
	b := g.Generate("v", "1", 3)
	a.AddTags("x")
	b.AddTags("y", "x")

	require.NoError(t, a.Merge(b))
	assert.Equal(int64(5), a.Bulk())
	assert.Equal([]string{"x", "y"}, a.Tags())
	assert.Equal(a.Hash(), b.Hash())
}

func TestMergeInOneBulkModeKeepsBulk(t *testing.T) {
	g := Generator{OneBulk: true}
	a := g.Generate("v", "1", 4)
	b := g.Generate("v", "1", 1)

	require.NoError(t, a.Merge(b))
	assert.Equal(t, int64(1), a.Bulk())

	a.IncrLoops()
	assert.Equal(t, 0, a.Loops())
}

func TestMergeRejectsDifferentTraversers(t *testing.T) {
	g := Generator{}
	a := g.Generate("v", "1", 1)

	assert.ErrorIs(t, a.Merge(g.Generate("w", "1", 1)), ErrTraverserMismatch)
	assert.ErrorIs(t, a.Merge(g.Generate("v", "2", 1)), ErrTraverserMismatch)

	looped := g.Generate("v", "1", 1)
	looped.IncrLoops()
	assert.ErrorIs(t, a.Merge(looped), ErrTraverserMismatch)
	assert.Equal(t, int64(1), a.Bulk())
}

func TestSackMergeWithoutMergeFunctionFails(t *testing.T) {
	sideEffects := NewSideEffects().WithSack(func() interface{} { return 1.0 }, nil, nil)
	g := Generator{SideEffects: sideEffects}
	a := g.Generate("v", "1", 1)
	b := g.Generate("v", "1", 1)

	assert.False(t, a.Mergeable(b))
	assert.ErrorIs(t, a.Merge(b), ErrSackMerge)
	assert.Equal(t, int64(1), a.Bulk())
}

func TestSackMergeFailsWhicheverSideCarriesTheSack(t *testing.T) {
	g := Generator{SideEffects: NewSideEffects()}
	withSack := func() *Traverser {
		tr := g.Generate("v", "1", 1)
		tr.SetSack(5)
		return tr
	}

	empty := g.Generate("v", "1", 1)
	assert.False(t, empty.Mergeable(withSack()))
	assert.ErrorIs(t, empty.Merge(withSack()), ErrSackMerge)
	assert.Nil(t, empty.Sack())
	assert.Equal(t, int64(1), empty.Bulk())

	full := withSack()
	assert.False(t, full.Mergeable(g.Generate("v", "1", 1)))
	assert.ErrorIs(t, full.Merge(g.Generate("v", "1", 1)), ErrSackMerge)

	set := NewTraverserSet(g.Generate("v", "1", 1), withSack())
	assert.Equal(t, 2, set.Len())
}

func TestIdentitySackFunctionsAreIdempotent(t *testing.T) {
	assert := assert.New(t)
	identity := func(s interface{}) interface{} { return s }
	first := func(a, b interface{}) interface{} { return a }
	sideEffects := NewSideEffects().WithSack(func() interface{} { return 7.0 }, identity, first)
	g := Generator{SideEffects: sideEffects}

	a := g.Generate("v", "1", 1)
	split := a.Fork()
	assert.Equal(7.0, split.Sack())

	require.NoError(t, a.Merge(split))
	assert.Equal(7.0, a.Sack())
	assert.Equal(int64(2), a.Bulk())
}

func TestSplitCopiesPathTagsAndSack(t *testing.T) {
	assert := assert.New(t)
	copySlice := func(s interface{}) interface{} { return append([]int(nil), s.([]int)...) }
	sideEffects := NewSideEffects().WithSack(func() interface{} { return []int{1} }, copySlice, nil)
	g := Generator{SideEffects: sideEffects, TrackPaths: true}

	parent := g.Generate("a", "0", 3)
	parent.AddTags("t")
	child := parent.Split("b", As(Identity(), "x"))
	child.AddTags("u")
	child.SetSack(append(child.Sack().([]int), 2))

	assert.Equal(int64(3), child.Bulk())
	assert.Equal("b", child.Get())
	assert.Equal([]interface{}{"a"}, parent.Path().Objects())
	assert.Equal([]interface{}{"a", "b"}, child.Path().Objects())
	assert.Equal([][]string{nil, {"x"}}, child.Path().Labels())
	assert.Equal([]string{"t"}, parent.Tags())
	assert.Equal([]int{1}, parent.Sack())
	assert.False(parent.Equal(child))
}

func TestSplitWithoutSplitFunctionSharesSack(t *testing.T) {
	sack := map[string]int{"n": 1}
	sideEffects := NewSideEffects().WithSack(func() interface{} { return sack }, nil, nil)
	parent := Generator{SideEffects: sideEffects}.Generate("a", "0", 1)

	child := parent.Fork()
	child.Sack().(map[string]int)["n"] = 2
	assert.Equal(t, 2, parent.Sack().(map[string]int)["n"])
}

func TestPathIsAppendOnly(t *testing.T) {
	assert := assert.New(t)
	p := NewPath()
	p.Extend("a", "x")
	p.Extend("b")
	p.ExtendLabels("y")
	objects := p.Objects()
	p.Extend("c")

	assert.Equal([]interface{}{"a", "b"}, objects)
	assert.Equal(3, p.Size())
	value, ok := p.Get("y")
	assert.True(ok)
	assert.Equal("b", value)

	clone := p.Clone()
	clone.Extend("d")
	assert.Equal(3, p.Size())
	assert.Equal(4, clone.Size())

	p.Truncate(1)
	assert.Equal([]interface{}{"a"}, p.Objects())
}

func TestEmptyPathIsNoop(t *testing.T) {
	assert := assert.New(t)
	p := EmptyPath.Extend("a", "x").ExtendLabels("y")
	assert.True(p.IsEmpty())
	assert.Equal(0, p.Size())
	assert.Equal(EmptyPath, p.Clone())

	tr := Generator{}.Generate("a", "0", 1)
	tr.AddLabels("x")
	assert.True(tr.Path().IsEmpty())
}

func TestLabeledPathsCollapseIntoNewestEntry(t *testing.T) {
	assert := assert.New(t)
	tr := Generator{OnlyLabeledPaths: true}.Generate("a", "0", 1)

	tr.AddLabels()
	assert.Equal(0, tr.Path().Size())

	tr.AddLabels("x")
	tr.AddLabels("y")
	assert.Equal(1, tr.Path().Size())
	assert.Equal([][]string{{"x", "y"}}, tr.Path().Labels())

	unlabeled := tr.Split("b", Identity())
	assert.Equal(1, unlabeled.Path().Size())

	unlabeled.AddLabels("z")
	assert.Equal([]interface{}{"a", "b"}, unlabeled.Path().Objects())
}

func TestDetachAttachRoundTrip(t *testing.T) {
	assert := assert.New(t)
	v := graph.NewVertex(3, "node")
	resolver := graph.VertexResolver{3: v}
	tr := Generator{TrackPaths: true}.Generate(v, "0", 1)

	tr.Detach()
	assert.Equal(graph.ReferenceVertex{Id: 3, Label: "node"}, tr.Get())
	assert.Equal([]interface{}{graph.ReferenceVertex{Id: 3, Label: "node"}}, tr.Path().Objects())

	attached, err := tr.Attach(resolver)
	require.NoError(t, err)
	assert.Same(v, attached)
}

func TestPathValuesAreNeverAttached(t *testing.T) {
	p := NewPath().Extend(graph.ReferenceVertex{Id: 1})
	tr := Generator{}.Generate(p, "0", 1)

	tr.Detach()
	value, err := tr.Attach(graph.VertexResolver{})
	require.NoError(t, err)
	assert.Same(t, p, value)
}

func TestTraverserSurvivesGob(t *testing.T) {
	assert := assert.New(t)
	sideEffects := NewSideEffects().WithSack(func() interface{} { return 1.5 }, nil, sumSacks)
	tr := Generator{SideEffects: sideEffects, TrackPaths: true}.Generate(graph.ReferenceVertex{Id: 9}, "2", 4)
	tr.AddTags("t")
	tr.IncrLoops()

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(tr))
	var decoded Traverser
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))
	decoded.SetSideEffects(sideEffects)

	assert.True(tr.Equal(&decoded))
	assert.Equal(tr.Hash(), decoded.Hash())
	assert.Equal(int64(4), decoded.Bulk())
	assert.Equal([]string{"t"}, decoded.Tags())
	assert.Equal(1.5, decoded.Sack())
	require.NoError(t, decoded.Merge(tr))
	assert.Equal(3.0, decoded.Sack())
}

func TestTraverserSetMergesEqualTraversers(t *testing.T) {
	assert := assert.New(t)
	g := Generator{}
	set := NewTraverserSet(
		g.Generate("a", "1", 1),
		g.Generate("b", "1", 1),
		g.Generate("a", "1", 2),
	)

	assert.Equal(2, set.Len())
	assert.Equal(int64(4), set.Bulk())
	assert.Equal([]interface{}{"a", "a", "a", "b"}, set.Values())
}

func TestTraverserSetKeepsUnmergeableSacksApart(t *testing.T) {
	sideEffects := NewSideEffects().WithSack(func() interface{} { return 1.0 }, nil, nil)
	g := Generator{SideEffects: sideEffects}
	set := NewTraverserSet(g.Generate("a", "1", 1), g.Generate("a", "1", 1))

	assert.Equal(t, 2, set.Len())
}

type weighted struct {
	Weight *int
	Labels map[string]int
}

func TestEqualNestedValuesHashEqually(t *testing.T) {
	one, other := 7, 7
	g := Generator{}
	a := g.Generate(&weighted{Weight: &one, Labels: map[string]int{"a": 1, "b": 2, "c": 3}}, "1", 1)
	b := g.Generate(&weighted{Weight: &other, Labels: map[string]int{"c": 3, "b": 2, "a": 1}}, "1", 2)
	require.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())

	set := NewTraverserSet(a, b)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, int64(3), set.Bulk())

	eight := 8
	c := g.Generate(&weighted{Weight: &eight, Labels: map[string]int{"a": 1}}, "1", 1)
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.Hash(), c.Hash())

	zero, negativeZero := g.Generate(0.0, "1", 1), g.Generate(math.Copysign(0, -1), "1", 1)
	require.True(t, zero.Equal(negativeZero))
	assert.Equal(t, zero.Hash(), negativeZero.Hash())
}
