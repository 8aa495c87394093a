package flowbus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowbus.yaml")
	contents := []byte(`
log:
  data_dir: /var/lib/flowbus
  num_partitions: 8
store:
  backend: redis
  redis:
    endpoint: "redis:6379"
cluster:
  node_ttl: 15s
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/flowbus", cfg.Log.DataDir)
	assert.Equal(t, int32(8), cfg.Log.NumPartitions)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Endpoint)
	assert.Equal(t, 15_000_000_000, int(cfg.Cluster.NodeTTL))
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
