package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Admin config
	assert.Equal(t, "8600", cfg.Admin.Port)
	assert.Equal(t, "0.0.0.0", cfg.Admin.Host)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Migration config
	assert.Equal(t, 65536, cfg.Migration.ChunkSize)
	assert.Equal(t, 64, cfg.Migration.PendingWrites)

	assert.Equal(t, uint64(16<<20), cfg.Guest.MemoryBytes)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("VMIO_PORT", "9100")
	t.Setenv("VMIO_LOG_LEVEL", "debug")
	t.Setenv("VMIO_MIGRATION_CHUNK", "4096")
	t.Setenv("VMIO_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Admin.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4096, cfg.Migration.ChunkSize)
	assert.False(t, cfg.RateLimit.Enabled)

	// Unset variables keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Admin.Host)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("VMIO_MIGRATION_CHUNK", "not a number")

	cfg := LoadOrDefault()
	assert.Equal(t, 65536, cfg.Migration.ChunkSize)
}

func TestParseTopology(t *testing.T) {
	data := []byte(`
plugins:
  - name: display
    label: gpu0
    enabled: true
    options:
      fb_size: "8388608"
  - name: presentation
    label: console
    enabled: false
`)
	topo, err := ParseTopology(data)
	require.NoError(t, err)
	require.Len(t, topo.Plugins, 2)
	assert.Equal(t, "display", topo.Plugins[0].Name)
	assert.Equal(t, "8388608", topo.Plugins[0].Options["fb_size"])

	enabled := topo.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "gpu0", enabled[0].Label)
}

func TestParseTopologyRejectsUnnamedEntry(t *testing.T) {
	_, err := ParseTopology([]byte("plugins:\n  - label: x\n"))
	assert.Error(t, err)
}

func TestLoadTopologyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins:\n  - name: display\n    enabled: true\n"), 0o644))

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	require.Len(t, topo.Plugins, 1)

	_, err = LoadTopology(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultTopology(t *testing.T) {
	topo := DefaultTopology()
	enabled := topo.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "display", enabled[0].Name)
	assert.Equal(t, "presentation", enabled[1].Name)
}
