package bagel

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory() *MapMemory {
	return NewMapMemory(
		NewMemoryComputeKey("count", Sum, false),
		NewMemoryComputeKey("lowest", Min, false),
		NewMemoryComputeKey("changed", Or, true),
	)
}

func TestMemoryUndeclaredKey(t *testing.T) {
	memory := newTestMemory()
	err := memory.Set("missing", 1)
	assert.True(t, errors.Is(err, ErrMemoryKey))
	_, err = memory.Get("count")
	assert.True(t, errors.Is(err, ErrMemoryKey))

	view := memory.workerView()
	assert.True(t, errors.Is(view.Add("missing", 1), ErrMemoryKey))
}

func TestMemoryContributionsVisibleAfterBarrier(t *testing.T) {
	memory := newTestMemory()
	require.NoError(t, memory.Set("count", 10))

	view := memory.workerView()
	require.NoError(t, view.Add("count", 5))
	value, err := view.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 10, value, "a superstep reads the value of the last barrier")

	memory.completeSubRound([]*workerMemory{view})
	memory.incrIteration()
	value, err = memory.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 15, value)
	assert.Equal(t, 1, memory.Iteration())
	assert.False(t, memory.IsInitialIteration())
}

func TestMemorySumIndependentOfWorkerOrder(t *testing.T) {
	reduce := func(order []int) interface{} {
		memory := newTestMemory()
		views := make([]*workerMemory, 3)
		for idx := range views {
			views[idx] = memory.workerView()
			require.NoError(t, views[idx].Add("count", idx+1))
			require.NoError(t, views[idx].Add("lowest", 10-idx))
		}
		ordered := make([]*workerMemory, 0, len(order))
		for _, idx := range order {
			ordered = append(ordered, views[idx])
		}
		memory.completeSubRound(ordered)
		count, err := memory.Get("count")
		require.NoError(t, err)
		lowest, err := memory.Get("lowest")
		require.NoError(t, err)
		return []interface{}{count, lowest}
	}

	expected := []interface{}{6, 8}
	assert.Equal(t, expected, reduce([]int{0, 1, 2}))
	assert.Equal(t, expected, reduce([]int{2, 0, 1}))
	assert.Equal(t, expected, reduce([]int{1, 2, 0}))
}

func TestMemorySetReplacesGlobalValue(t *testing.T) {
	memory := newTestMemory()
	require.NoError(t, memory.Set("count", 10))

	setter := memory.workerView()
	adder := memory.workerView()
	require.NoError(t, setter.Set("count", 3))
	require.NoError(t, adder.Add("count", 2))
	memory.completeSubRound([]*workerMemory{adder, setter})

	value, err := memory.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 5, value)
}

func TestMemoryLocalSetIsReadBack(t *testing.T) {
	memory := newTestMemory()
	require.NoError(t, memory.Set("count", 10))

	view := memory.workerView()
	other := memory.workerView()
	assert.False(t, view.Exists("lowest"))
	require.NoError(t, view.Set("lowest", 3))
	require.NoError(t, view.Set("count", 1))

	value, err := view.Get("lowest")
	require.NoError(t, err)
	assert.Equal(t, 3, value)
	assert.True(t, view.Exists("lowest"))
	assert.Equal(t, []string{"count", "lowest"}, view.Keys())
	value, err = view.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 1, value)

	value, err = other.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 10, value, "other workers see the value of the last barrier")
	assert.False(t, other.Exists("lowest"))
}

func TestMemoryUntouchedKeyKeepsValue(t *testing.T) {
	memory := newTestMemory()
	require.NoError(t, memory.Set("lowest", 4))
	memory.completeSubRound([]*workerMemory{memory.workerView()})
	value, err := memory.Get("lowest")
	require.NoError(t, err)
	assert.Equal(t, 4, value)
}

func TestMemoryCompleteDropsTransientKeys(t *testing.T) {
	memory := newTestMemory()
	require.NoError(t, memory.Set("count", 1))
	require.NoError(t, memory.Set("changed", true))

	final := memory.complete()
	assert.Equal(t, []string{"count"}, final.Keys())
	assert.False(t, final.Exists("changed"))
	assert.Equal(t, map[string]interface{}{"count": 1}, final.AsMap())
	assert.True(t, errors.Is(final.Set("count", 2), ErrMemoryReadOnly))
	assert.True(t, errors.Is(final.Add("count", 2), ErrMemoryReadOnly))
}

func TestMemoryRestore(t *testing.T) {
	memory := newTestMemory()
	require.NoError(t, memory.Set("count", 7))
	memory.incrIteration()
	values, iteration := memory.state()

	require.NoError(t, memory.Set("count", 100))
	memory.incrIteration()
	memory.restore(values, iteration)

	value, err := memory.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, 1, memory.Iteration())
}

func TestOperators(t *testing.T) {
	assert.Equal(t, 5, Sum(2, 3))
	assert.Equal(t, 2.5, Sum(1.0, 1.5))
	assert.Equal(t, uint64(4), Sum(uint64(1), uint64(3)))
	assert.Equal(t, 3.5, Sum(1, 2.5))
	assert.Equal(t, Sum(1, 2.5), Sum(2.5, 1))
	assert.Equal(t, Sum(int64(2), 3), Sum(3, int64(2)))
	assert.Equal(t, 4, Sum(nil, 4))
	assert.Equal(t, 4, Sum(4, nil))
	assert.Equal(t, 1, Min(1, 3))
	assert.Equal(t, 3, Max(1, 3))
	assert.Equal(t, "a", Min("b", "a"))
	assert.Equal(t, true, Or(false, true))
	assert.Equal(t, false, And(false, true))
	assert.Equal(t, 9, Assign(1, 9))

	op, err := OperatorByName("min")
	require.NoError(t, err)
	assert.Equal(t, 2, op(2, 4))
	_, err = OperatorByName("median")
	assert.True(t, errors.Is(err, ErrConfiguration))
}
