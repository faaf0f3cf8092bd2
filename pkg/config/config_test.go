package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EngineBadger, cfg.Storage.Engine)
	assert.Equal(t, "caller", cfg.Graph.IDStrategy)
	assert.False(t, cfg.Graph.AutoRegisterTypes)
	assert.Equal(t, "reject", cfg.Graph.DuplicateTypes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LINKDB_STORAGE_ENGINE", "memory")
	t.Setenv("LINKDB_ID_STRATEGY", "sequential")
	t.Setenv("LINKDB_AUTO_REGISTER_TYPES", "yes")
	t.Setenv("LINKDB_NODE_CAPACITY", "42")
	t.Setenv("LINKDB_LOCK_TIMEOUT", "250ms")
	t.Setenv("LINKDB_GC_INTERVAL", "30")
	t.Setenv("LINKDB_CASCADE_WORKERS", "not-a-number")
	t.Setenv("LINKDB_DEFAULT_AVG_OUT_DEGREE", "64")
	t.Setenv("LINKDB_DEFAULT_AVG_IN_DEGREE", "8")
	t.Setenv("LINKDB_AVG_NODE_ID_SIZE", "36")
	t.Setenv("LINKDB_SEQUENCE_BANDWIDTH", "1000")

	cfg := LoadFromEnv()
	assert.Equal(t, EngineMemory, cfg.Storage.Engine)
	assert.Equal(t, "sequential", cfg.Graph.IDStrategy)
	assert.True(t, cfg.Graph.AutoRegisterTypes)
	assert.Equal(t, 42, cfg.Graph.NodeCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Graph.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Storage.GCInterval, "bare numbers are seconds")
	assert.Equal(t, 4, cfg.Graph.CascadeWorkers, "unparsable values keep the default")
	assert.Equal(t, 64, cfg.Graph.DefaultAvgOutDegree)
	assert.Equal(t, 8, cfg.Graph.DefaultAvgInDegree)
	assert.Equal(t, 36, cfg.Graph.AvgNodeIDSize)
	assert.Equal(t, uint64(1000), cfg.Storage.SequenceBandwidth)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: memory
  block_cache_size: 64MB
graph:
  id_strategy: uuid
  lock_timeout: 2s
  types:
    - name: FRIENDS
      max_entries: 10000
      avg_out_degree: 100
      avg_in_degree: 100
logging:
  format: json
`), 0600))

	t.Setenv("LINKDB_LOG_LEVEL", "debug")
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, EngineMemory, cfg.Storage.Engine)
	assert.Equal(t, "uuid", cfg.Graph.IDStrategy)
	assert.Equal(t, 2*time.Second, cfg.Graph.LockTimeout)
	assert.Equal(t, []TypeConfig{{Name: "FRIENDS", MaxEntries: 10000, AvgOutDegree: 100, AvgInDegree: 100}}, cfg.Graph.Types)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "debug", cfg.Logging.Level, "environment wins over the file")
	assert.Equal(t, 100_000, cfg.Graph.NodeCapacity, "missing keys keep defaults")

	n, err := cfg.Storage.BlockCacheBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(64_000_000), n)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("graph: [unclosed"), 0600))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Graph.Types = []TypeConfig{{Name: "RATED", MaxEntries: 50}}
	require.NoError(t, cfg.Save(path))

	back, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown engine", func(c *Config) { c.Storage.Engine = "rocks" }, "unknown storage engine"},
		{"badger without dir", func(c *Config) { c.Storage.DataDir = "" }, "data directory"},
		{"bad cache size", func(c *Config) { c.Storage.BlockCacheSize = "lots" }, "block cache size"},
		{"discard ratio", func(c *Config) { c.Storage.GCDiscardRatio = 1 }, "discard ratio"},
		{"id strategy", func(c *Config) { c.Graph.IDStrategy = "snowflake" }, "id strategy"},
		{"duplicate policy", func(c *Config) { c.Graph.DuplicateTypes = "merge" }, "duplicate type policy"},
		{"node capacity", func(c *Config) { c.Graph.NodeCapacity = 0 }, "node capacity"},
		{"lock timeout", func(c *Config) { c.Graph.LockTimeout = -time.Second }, "lock timeout"},
		{"unnamed type", func(c *Config) { c.Graph.Types = []TypeConfig{{}} }, "without a name"},
		{"type twice", func(c *Config) { c.Graph.Types = []TypeConfig{{Name: "A"}, {Name: "A"}} }, "declared twice"},
		{"log level", func(c *Config) { c.Logging.Level = "LOUD" }, "log level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkdb.log")
	logger, closeFn, err := LoggingConfig{Level: "WARN", Format: "json", Output: path}.NewLogger()
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "type", "FRIENDS")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)
	assert.Contains(t, string(data), `"type":"FRIENDS"`)
}

func TestString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, "Engine: badger")
	assert.Contains(t, s, "LockTimeout: 5s")
}
