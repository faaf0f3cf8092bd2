// Package config handles LinkDB configuration from YAML files and environment
// variables.
//
// Configuration starts from DefaultConfig(). LoadFile() overlays a YAML file,
// and environment variables prefixed with LINKDB_ are applied last, so they
// always win. Validate() should be called before the Config is used.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("./linkdb.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Storage: %s at %s\n", cfg.Storage.Engine, cfg.Storage.DataDir)
//
// Environment Variables:
//
// Storage:
//   - LINKDB_STORAGE_ENGINE="badger" or "memory"
//   - LINKDB_DATA_DIR="./data"
//   - LINKDB_SYNC_WRITES=false
//   - LINKDB_LOW_MEMORY=false
//   - LINKDB_BLOCK_CACHE_SIZE="256MB"
//   - LINKDB_GC_INTERVAL=10m
//   - LINKDB_GC_DISCARD_RATIO=0.5
//   - LINKDB_SEQUENCE_BANDWIDTH=128
//
// Graph:
//   - LINKDB_ID_STRATEGY="caller", "sequential" or "uuid"
//   - LINKDB_AUTO_REGISTER_TYPES=false
//   - LINKDB_DUPLICATE_TYPES="reject" or "replace"
//   - LINKDB_NODE_CAPACITY=100000
//   - LINKDB_RELATIONSHIP_CAPACITY=100000
//   - LINKDB_DEFAULT_MAX_ENTRIES=10000
//   - LINKDB_DEFAULT_AVG_OUT_DEGREE=16
//   - LINKDB_DEFAULT_AVG_IN_DEGREE=16
//   - LINKDB_AVG_NODE_ID_SIZE=16
//   - LINKDB_STRICT_NODES=false
//   - LINKDB_CASCADE_WORKERS=4
//   - LINKDB_LOCK_TIMEOUT=5s
//
// Logging:
//   - LINKDB_LOG_LEVEL="INFO"
//   - LINKDB_LOG_FORMAT="text" or "json"
//   - LINKDB_LOG_OUTPUT="stderr", "stdout" or a file path
//
// Metrics:
//   - LINKDB_METRICS_ENABLED=false
//
// For a complete list, see the Config struct field documentation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Storage engines.
const (
	EngineBadger = "badger"
	EngineMemory = "memory"
)

// Config holds all LinkDB configuration.
//
// Configuration is organized into logical sections:
//   - Storage: backend selection and BadgerDB tuning
//   - Graph: engine policies and store sizing
//   - Logging: slog level, format and destination
//   - Metrics: Prometheus collector registration
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Graph   GraphConfig   `yaml:"graph"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig holds backend settings.
type StorageConfig struct {
	// Engine is "badger" (persistent) or "memory"
	Engine string `yaml:"engine"`
	// DataDir is the BadgerDB directory
	DataDir string `yaml:"data_dir"`
	// SyncWrites fsyncs every write
	SyncWrites bool `yaml:"sync_writes"`
	// LowMemory shrinks BadgerDB memtables and caches
	LowMemory bool `yaml:"low_memory"`
	// BlockCacheSize is a human readable size ("256MB"); empty keeps the default
	BlockCacheSize string `yaml:"block_cache_size"`
	// GCInterval between value log GC passes; 0 disables the background GC
	GCInterval time.Duration `yaml:"gc_interval"`
	// GCDiscardRatio passed to BadgerDB's RunValueLogGC
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`
	// SequenceBandwidth is how many generated ids are leased at once
	SequenceBandwidth uint64 `yaml:"sequence_bandwidth"`
}

// GraphConfig holds graph engine settings.
type GraphConfig struct {
	// IDStrategy is "caller", "sequential" or "uuid"
	IDStrategy string `yaml:"id_strategy"`
	// AutoRegisterTypes registers unknown relationship types on first use
	AutoRegisterTypes bool `yaml:"auto_register_types"`
	// DuplicateTypes is "reject" or "replace"
	DuplicateTypes string `yaml:"duplicate_types"`
	// NodeCapacity is the fixed size of the node store
	NodeCapacity int `yaml:"node_capacity"`
	// RelationshipCapacity is the fixed size of the relationship property store
	RelationshipCapacity int `yaml:"relationship_capacity"`
	// DefaultMaxEntries sizes auto-registered types
	DefaultMaxEntries int `yaml:"default_max_entries"`
	// DefaultAvgOutDegree sizes auto-registered types
	DefaultAvgOutDegree int `yaml:"default_avg_out_degree"`
	// DefaultAvgInDegree sizes auto-registered types
	DefaultAvgInDegree int `yaml:"default_avg_in_degree"`
	// AvgNodeIDSize in bytes, used for value size hints
	AvgNodeIDSize int `yaml:"avg_node_id_size"`
	// StrictNodes requires relationship endpoints to exist
	StrictNodes bool `yaml:"strict_nodes"`
	// CascadeWorkers bounds parallel per-type cleanup on node removal
	CascadeWorkers int `yaml:"cascade_workers"`
	// LockTimeout bounds key lock waits; 0 waits indefinitely
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// Types are registered on open when missing
	Types []TypeConfig `yaml:"types"`
}

// TypeConfig declares a relationship type to register on open.
type TypeConfig struct {
	Name         string `yaml:"name"`
	MaxEntries   int    `yaml:"max_entries"`
	AvgOutDegree int    `yaml:"avg_out_degree"`
	AvgInDegree  int    `yaml:"avg_in_degree"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string `yaml:"level"`
	// Format (json, text)
	Format string `yaml:"format"`
	// Output path (stdout, stderr, or file path)
	Output string `yaml:"output"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	// Enabled registers the engine collectors with the default registerer
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:            EngineBadger,
			DataDir:           "./data",
			GCInterval:        10 * time.Minute,
			GCDiscardRatio:    0.5,
			SequenceBandwidth: 128,
		},
		Graph: GraphConfig{
			IDStrategy:           "caller",
			DuplicateTypes:       "reject",
			NodeCapacity:         100_000,
			RelationshipCapacity: 100_000,
			DefaultMaxEntries:    10_000,
			DefaultAvgOutDegree:  16,
			DefaultAvgInDegree:   16,
			AvgNodeIDSize:        16,
			CascadeWorkers:       4,
			LockTimeout:          5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFromEnv builds a Config from DefaultConfig and LINKDB_* environment
// variables.
//
// Example:
//
//	os.Setenv("LINKDB_STORAGE_ENGINE", "memory")
//	os.Setenv("LINKDB_ID_STRATEGY", "sequential")
//	cfg := config.LoadFromEnv()
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file on top of DefaultConfig and then applies
// environment overrides. Keys absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Load uses LoadFile when path is set and LoadFromEnv otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromEnv(), nil
	}
	return LoadFile(path)
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

func (c *Config) applyEnv() {
	// Storage settings
	c.Storage.Engine = getEnv("LINKDB_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataDir = getEnv("LINKDB_DATA_DIR", c.Storage.DataDir)
	c.Storage.SyncWrites = getEnvBool("LINKDB_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.LowMemory = getEnvBool("LINKDB_LOW_MEMORY", c.Storage.LowMemory)
	c.Storage.BlockCacheSize = getEnv("LINKDB_BLOCK_CACHE_SIZE", c.Storage.BlockCacheSize)
	c.Storage.GCInterval = getEnvDuration("LINKDB_GC_INTERVAL", c.Storage.GCInterval)
	c.Storage.GCDiscardRatio = getEnvFloat("LINKDB_GC_DISCARD_RATIO", c.Storage.GCDiscardRatio)
	c.Storage.SequenceBandwidth = getEnvUint64("LINKDB_SEQUENCE_BANDWIDTH", c.Storage.SequenceBandwidth)

	// Graph settings
	c.Graph.IDStrategy = getEnv("LINKDB_ID_STRATEGY", c.Graph.IDStrategy)
	c.Graph.AutoRegisterTypes = getEnvBool("LINKDB_AUTO_REGISTER_TYPES", c.Graph.AutoRegisterTypes)
	c.Graph.DuplicateTypes = getEnv("LINKDB_DUPLICATE_TYPES", c.Graph.DuplicateTypes)
	c.Graph.NodeCapacity = getEnvInt("LINKDB_NODE_CAPACITY", c.Graph.NodeCapacity)
	c.Graph.RelationshipCapacity = getEnvInt("LINKDB_RELATIONSHIP_CAPACITY", c.Graph.RelationshipCapacity)
	c.Graph.DefaultMaxEntries = getEnvInt("LINKDB_DEFAULT_MAX_ENTRIES", c.Graph.DefaultMaxEntries)
	c.Graph.DefaultAvgOutDegree = getEnvInt("LINKDB_DEFAULT_AVG_OUT_DEGREE", c.Graph.DefaultAvgOutDegree)
	c.Graph.DefaultAvgInDegree = getEnvInt("LINKDB_DEFAULT_AVG_IN_DEGREE", c.Graph.DefaultAvgInDegree)
	c.Graph.AvgNodeIDSize = getEnvInt("LINKDB_AVG_NODE_ID_SIZE", c.Graph.AvgNodeIDSize)
	c.Graph.StrictNodes = getEnvBool("LINKDB_STRICT_NODES", c.Graph.StrictNodes)
	c.Graph.CascadeWorkers = getEnvInt("LINKDB_CASCADE_WORKERS", c.Graph.CascadeWorkers)
	c.Graph.LockTimeout = getEnvDuration("LINKDB_LOCK_TIMEOUT", c.Graph.LockTimeout)

	// Logging settings
	c.Logging.Level = getEnv("LINKDB_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LINKDB_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("LINKDB_LOG_OUTPUT", c.Logging.Output)

	c.Metrics.Enabled = getEnvBool("LINKDB_METRICS_ENABLED", c.Metrics.Enabled)
}

// Validate checks the configuration for invalid values and returns every
// problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Engine {
	case EngineMemory:
	case EngineBadger:
		if c.Storage.DataDir == "" {
			errs = append(errs, errors.New("badger storage requires a data directory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.Engine))
	}
	if _, err := c.Storage.BlockCacheBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.GCDiscardRatio <= 0 || c.Storage.GCDiscardRatio >= 1 {
		errs = append(errs, fmt.Errorf("gc discard ratio must be in (0, 1), got %g", c.Storage.GCDiscardRatio))
	}
	if c.Storage.GCInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid gc interval: %s", c.Storage.GCInterval))
	}

	switch c.Graph.IDStrategy {
	case "caller", "sequential", "uuid":
	default:
		errs = append(errs, fmt.Errorf("unknown id strategy %q", c.Graph.IDStrategy))
	}
	switch c.Graph.DuplicateTypes {
	case "reject", "replace":
	default:
		errs = append(errs, fmt.Errorf("unknown duplicate type policy %q", c.Graph.DuplicateTypes))
	}
	if c.Graph.NodeCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid node capacity: %d", c.Graph.NodeCapacity))
	}
	if c.Graph.RelationshipCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid relationship capacity: %d", c.Graph.RelationshipCapacity))
	}
	if c.Graph.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid lock timeout: %s", c.Graph.LockTimeout))
	}
	seen := make(map[string]bool, len(c.Graph.Types))
	for _, t := range c.Graph.Types {
		if t.Name == "" {
			errs = append(errs, errors.New("relationship type without a name"))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("relationship type %s declared twice", t.Name))
		}
		seen[t.Name] = true
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// BlockCacheBytes parses BlockCacheSize. An empty size yields 0.
func (s StorageConfig) BlockCacheBytes() (int64, error) {
	if strings.TrimSpace(s.BlockCacheSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s.BlockCacheSize)
	if err != nil {
		return 0, fmt.Errorf("invalid block cache size %q: %w", s.BlockCacheSize, err)
	}
	return int64(n), nil
}

// String returns a short summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Engine: %s, DataDir: %s, IDs: %s, AutoRegister: %v, Nodes: %d, LockTimeout: %s}",
		c.Storage.Engine, c.Storage.DataDir,
		c.Graph.IDStrategy, c.Graph.AutoRegisterTypes,
		c.Graph.NodeCapacity, c.Graph.LockTimeout,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
