package bagel

import (
	"database/sql"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	store, err := openCheckpointStore(t.TempDir(), "job")
	require.NoError(t, err)
	defer store.close()

	checkpoint := Checkpoint{
		SuperStepNumber: 2,
		CheckpointState: map[uint64]VertexCheckpoint{
			7: {Id: 7, Values: map[string]interface{}{"visits": 2}, Messages: []interface{}{uint64(6)}},
		},
		MemoryState: map[string]interface{}{"executions": 10},
		Iteration:   2,
	}
	require.NoError(t, store.storeCheckpoint(checkpoint))

	restored, err := store.retrieveCheckpoint(2)
	require.NoError(t, err)
	assert.Equal(t, checkpoint, restored)
}

func TestCheckpointStoreStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	stale, err := openCheckpointStore(dir, "job")
	require.NoError(t, err)
	require.NoError(t, stale.storeCheckpoint(Checkpoint{
		SuperStepNumber: 4,
		CheckpointState: map[uint64]VertexCheckpoint{},
		MemoryState:     map[string]interface{}{},
	}))
	// the file survives, as after a crash
	require.NoError(t, stale.db.Close())

	store, err := openCheckpointStore(dir, "job")
	require.NoError(t, err)
	defer store.close()
	_, err = store.retrieveCheckpoint(4)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
