package bagel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationGetters(t *testing.T) {
	var config Configuration
	require.NoError(t, json.Unmarshal([]byte(`{
		"workers": 4,
		"ratio": "0.5",
		"flag": "true",
		"timeout": "2s",
		"labels": ["a", "b"],
		"ids": "1, 2,3",
		"source": 7
	}`), &config))

	assert.Equal(t, 4, config.GetInt("workers", 1))
	assert.Equal(t, 1, config.GetInt("missing", 1))
	assert.Equal(t, 0.5, config.GetFloat64("ratio", 0))
	assert.True(t, config.GetBool("flag", false))
	assert.Equal(t, 2*time.Second, config.GetDuration("timeout", 0))
	assert.Equal(t, []string{"a", "b"}, config.GetStrings("labels"))
	assert.Equal(t, []uint64{1, 2, 3}, config.GetUint64s("ids"))
	assert.Equal(t, uint64(7), config.GetUint64("source", 0))
	assert.Equal(t, "4", config.GetString("workers", ""))
}

func TestConfigurationMergeOverrides(t *testing.T) {
	base := Configuration{WORKERS: 1, PERSIST: "EDGES"}
	merged, err := base.Merge(Configuration{WORKERS: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, merged.GetInt(WORKERS, 0))
	assert.Equal(t, "EDGES", merged.GetString(PERSIST, ""))
	assert.Equal(t, 1, base.GetInt(WORKERS, 0), "merge returns a copy")
	assert.Equal(t, []string{PERSIST, WORKERS}, merged.Keys())
}

func TestParsePolicies(t *testing.T) {
	persist, err := ParsePersist("vertex_properties")
	require.NoError(t, err)
	assert.Equal(t, VERTEX_PROPERTIES, persist)
	_, err = ParsePersist("everything")
	assert.True(t, errors.Is(err, ErrConfiguration))

	resultGraph, err := ParseResultGraph("original")
	require.NoError(t, err)
	assert.Equal(t, ORIGINAL, resultGraph)
	_, err = ParseResultGraph("old")
	assert.True(t, errors.Is(err, ErrConfiguration))
}
