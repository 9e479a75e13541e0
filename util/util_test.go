package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	ListenAddr string `json:"ListenAddr" yaml:"listenAddr"`
	Workers    int    `json:"Workers" yaml:"workers"`
}

func TestReadConfigJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "coord_config.json")
	require.NoError(t, WriteJSONConfig(jsonPath, testConfig{ListenAddr: ":8080", Workers: 4}))

	var fromJSON testConfig
	require.NoError(t, ReadConfig(jsonPath, &fromJSON))
	assert.Equal(t, testConfig{ListenAddr: ":8080", Workers: 4}, fromJSON)

	yamlPath := filepath.Join(dir, "coord_config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("listenAddr: \":9090\"\nworkers: 2\n"), 0o644))
	var fromYAML testConfig
	require.NoError(t, ReadConfig(yamlPath, &fromYAML))
	assert.Equal(t, testConfig{ListenAddr: ":9090", Workers: 2}, fromYAML)
}

func TestReadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	var config testConfig
	assert.Error(t, ReadConfig(filepath.Join(dir, "missing.json"), &config))

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o644))
	assert.Error(t, ReadConfig(broken, &config))
}

func TestPartitionOf(t *testing.T) {
	counts := make([]int, 4)
	for id := uint64(0); id < 1000; id++ {
		p := PartitionOf(id, 4)
		require.True(t, p >= 0 && p < 4)
		assert.Equal(t, p, PartitionOf(id, 4), "stable")
		assert.Equal(t, int(HashId(id)%4), p)
		counts[p]++
	}
	for _, c := range counts {
		assert.Greater(t, c, 150)
	}
	assert.Equal(t, 0, PartitionOf(42, 1))
	assert.Equal(t, 0, PartitionOf(42, 0))
}

func TestHashIdIsNonNegative(t *testing.T) {
	for id := uint64(0); id < 1000; id++ {
		assert.GreaterOrEqual(t, HashId(id), int64(0))
	}
}

func TestGetenv(t *testing.T) {
	t.Setenv("BAGEL_TEST_VALUE", "set")
	assert.Equal(t, "set", Getenv("BAGEL_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", Getenv("BAGEL_TEST_MISSING", "fallback"))
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BAGEL_TEST_SECRET=hunter2\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("BAGEL_TEST_SECRET") })

	LoadEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "hunter2", os.Getenv("BAGEL_TEST_SECRET"))
}
