package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphcomputer/graph"
)

func TestParseEdgeList(t *testing.T) {
	g, err := ParseEdgeList(strings.NewReader(testEdges))
	require.NoError(t, err)
	assert.Equal(t, 4, g.Count())
	assert.Equal(t, Graph{0: {1, 2}, 1: {3}, 2: {3}, 3: {0}}, Adjacency(g))

	v3, ok := g.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, VERTEX_LABEL, v3.Label)
	assert.ElementsMatch(t, []uint64{1, 2}, v3.Neighbors(graph.IN))
	for _, e := range v3.Edges(graph.IN) {
		assert.Equal(t, EDGE_LABEL, e.Label)
		if e.OutId == 2 {
			assert.Equal(t, 2.5, e.Properties[WEIGHT])
		} else {
			assert.Empty(t, e.Properties)
		}
	}
}

func TestParseEdgeListErrors(t *testing.T) {
	for _, input := range []string{
		"0 1 2 3\n",
		"0\n",
		"a 1\n",
		"0 -1\n",
		"0 1 heavy\n",
	} {
		_, err := ParseEdgeList(strings.NewReader(input))
		assert.ErrorIs(t, err, ErrEdgeList, input)
	}
}

func TestParseEdgeListFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edges.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\t2\n\n2\t1\n"), 0o644))
	g, err := ParseEdgeListFile(path)
	require.NoError(t, err)
	assert.Equal(t, Graph{1: {2}, 2: {1}}, Adjacency(g))

	_, err = ParseEdgeListFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
