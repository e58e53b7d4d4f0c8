package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeTempConfig(t, `
ledger:
  cpu: 8
  ram: 16
max_concurrent_tasks: 4
nodes:
  - id: node-a
    host: 10.0.0.1
    port: 8080
    cpu: 2
    ram: 4
    active: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8.0, cfg.Ledger.CPU)
	assert.Equal(t, 4, cfg.MaxConcurrentTasks)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "node-a", cfg.Nodes[0].ID)

	capacity := cfg.LedgerCapacity()
	assert.Equal(t, 8.0, capacity.CPU)

	descriptors := cfg.NodeDescriptors()
	require.Len(t, descriptors, 1)
	assert.Equal(t, "10.0.0.1:8080", descriptors[0].Address())
}

func TestLoadDuplicateNodeID(t *testing.T) {
	path := writeTempConfig(t, `
nodes:
  - id: dup
    host: a
    port: 1
  - id: dup
    host: b
    port: 2
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
