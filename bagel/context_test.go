package bagel

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphcomputer/graph"
)

func TestExecutionContextLeases(t *testing.T) {
	CloseContext()
	first := AcquireContext(false)
	second := AcquireContext(false)
	assert.Same(t, first, second)
	assert.Equal(t, 2, first.Leases())
	assert.NotEmpty(t, first.Id())

	first.Release(false)
	assert.False(t, first.IsClosed())
	second.Release(false)
	assert.True(t, first.IsClosed())
	assert.Nil(t, CurrentContext())
}

func TestExecutionContextFresh(t *testing.T) {
	CloseContext()
	old := AcquireContext(false)
	fresh := AcquireContext(true)
	assert.NotSame(t, old, fresh)
	assert.False(t, old.IsClosed(), "a leased context stays open")

	old.Release(true)
	assert.True(t, old.IsClosed(), "a replaced context closes with its last lease")

	fresh.Release(true)
	assert.False(t, fresh.IsClosed())
	assert.Same(t, fresh, CurrentContext())
	CloseContext()
	assert.True(t, fresh.IsClosed())
}

func TestExecutionContextStorage(t *testing.T) {
	CloseContext()
	defer CloseContext()
	ctx := context.Background()
	execCtx := AcquireContext(false)

	g := graph.FromVertices(graph.NewVertex(1, "a")).PartitionBy(graph.HashPartitioner{Partitions: 2})
	require.NoError(t, execCtx.WriteGraph(ctx, "g", g))
	require.NoError(t, execCtx.WriteMemory(ctx, "g", "count", 3))

	exists, err := execCtx.Exists(ctx, "g")
	require.NoError(t, err)
	assert.True(t, exists)
	read, err := execCtx.ReadGraph(ctx, "g")
	require.NoError(t, err)
	assert.Same(t, g, read)
	value, err := execCtx.ReadMemory(ctx, "g", "count")
	require.NoError(t, err)
	assert.Equal(t, 3, value)

	require.NoError(t, execCtx.Delete(ctx, "g"))
	_, err = execCtx.ReadGraph(ctx, "g")
	assert.True(t, errors.Is(err, graph.ErrNotFound))
	_, err = execCtx.ReadMemory(ctx, "g", "count")
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	execCtx.Release(false)
	_, err = execCtx.ReadGraph(ctx, "g")
	assert.True(t, errors.Is(err, ErrContextClosed))
}
