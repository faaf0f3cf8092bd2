// Package linkdb wires a configured storage backend and graph engine into one
// embeddable database handle.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	db, err := linkdb.Open(cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	g := db.Graph()
//	g.AddNode(ctx, "alice", value.Null())
package linkdb

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orneryd/linkdb/pkg/config"
	"github.com/orneryd/linkdb/pkg/graph"
	"github.com/orneryd/linkdb/pkg/kvstore"
)

// DB owns a backend, the graph engine on top of it, and the background value
// log GC of persistent backends.
type DB struct {
	cfg     *config.Config
	log     *slog.Logger
	backend kvstore.Backend
	badger  *kvstore.BadgerBackend // nil for the memory engine
	graph   *graph.Engine

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	bgWg   sync.WaitGroup
}

// Stats summarizes a database.
type Stats struct {
	Nodes                  int              `json:"nodes"`
	RelationshipProperties int              `json:"relationship_properties"`
	Types                  []graph.TypeInfo `json:"types"`
	LSMBytes               int64            `json:"lsm_bytes"`
	VLogBytes              int64            `json:"vlog_bytes"`
}

// Open builds the backend selected by cfg, opens the graph engine on it and
// registers the relationship types declared in cfg that do not exist yet.
//
// A nil cfg uses config.DefaultConfig(). A nil logger discards logs.
func Open(cfg *config.Config, logger *slog.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db := &DB{cfg: cfg, log: logger, stop: make(chan struct{})}

	switch cfg.Storage.Engine {
	case config.EngineMemory:
		db.backend = kvstore.NewMemoryBackend()
		logger.Info("using in-memory storage, data will not persist")
	default:
		cacheBytes, _ := cfg.Storage.BlockCacheBytes()
		b, err := kvstore.NewBadgerBackend(kvstore.BadgerOptions{
			DataDir:           cfg.Storage.DataDir,
			SyncWrites:        cfg.Storage.SyncWrites,
			LowMemory:         cfg.Storage.LowMemory,
			BlockCacheSize:    cacheBytes,
			SequenceBandwidth: cfg.Storage.SequenceBandwidth,
			Logger:            logger.With("component", "badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		db.backend, db.badger = b, b
		logger.Info("using persistent storage", "dir", cfg.Storage.DataDir)
	}

	engine, err := graph.New(db.backend, GraphOptions(cfg), logger)
	if err != nil {
		db.backend.Close()
		return nil, err
	}
	db.graph = engine

	if err := db.declareTypes(); err != nil {
		db.Close()
		return nil, err
	}

	if db.badger != nil && cfg.Storage.GCInterval > 0 {
		db.bgWg.Add(1)
		go db.gcLoop(cfg.Storage.GCInterval)
	}
	return db, nil
}

// GraphOptions translates the graph section of cfg into engine options.
func GraphOptions(cfg *config.Config) graph.Options {
	g := cfg.Graph
	opts := graph.Options{
		IDStrategy:           graph.IDStrategy(g.IDStrategy),
		AutoRegisterTypes:    g.AutoRegisterTypes,
		DuplicateTypePolicy:  graph.DuplicateTypePolicy(g.DuplicateTypes),
		DefaultMaxEntries:    g.DefaultMaxEntries,
		DefaultAvgOutDegree:  g.DefaultAvgOutDegree,
		DefaultAvgInDegree:   g.DefaultAvgInDegree,
		NodeCapacity:         g.NodeCapacity,
		RelationshipCapacity: g.RelationshipCapacity,
		AvgNodeIDSize:        g.AvgNodeIDSize,
		StrictNodes:          g.StrictNodes,
		CascadeWorkers:       g.CascadeWorkers,
		LockTimeout:          g.LockTimeout,
	}
	if cfg.Metrics.Enabled {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	return opts
}

func (db *DB) declareTypes() error {
	for _, t := range db.cfg.Graph.Types {
		if _, err := db.graph.TypeInfo(t.Name); err == nil {
			continue
		}
		if err := db.graph.RegisterType(t.Name, t.MaxEntries, t.AvgOutDegree, t.AvgInDegree); err != nil {
			return fmt.Errorf("registering configured type %s: %w", t.Name, err)
		}
	}
	return nil
}

// Graph returns the graph engine.
func (db *DB) Graph() *graph.Engine { return db.graph }

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config { return db.cfg }

// Persistent reports whether the database is backed by BadgerDB.
func (db *DB) Persistent() bool { return db.badger != nil }

// Stats returns current counts and, for persistent databases, disk usage.
func (db *DB) Stats() Stats {
	s := Stats{
		Nodes:                  db.graph.NodeCount(),
		RelationshipProperties: db.graph.RelationshipPropertyCount(),
	}
	for _, name := range db.graph.Types() {
		if info, err := db.graph.TypeInfo(name); err == nil {
			s.Types = append(s.Types, info)
		}
	}
	if db.badger != nil {
		s.LSMBytes, s.VLogBytes = db.badger.Size()
	}
	return s
}

// RunGC runs value log GC until BadgerDB reports nothing left to rewrite and
// returns the number of rewritten files. It is a no-op for the memory engine.
func (db *DB) RunGC() (int, error) {
	if db.badger == nil {
		return 0, nil
	}
	n := 0
	for {
		rewrote, err := db.badger.RunGC(db.cfg.Storage.GCDiscardRatio)
		if err != nil {
			return n, err
		}
		if !rewrote {
			return n, nil
		}
		n++
	}
}

func (db *DB) gcLoop(interval time.Duration) {
	defer db.bgWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
			n, err := db.RunGC()
			if err != nil {
				db.log.Warn("value log gc failed", "error", err)
				continue
			}
			if n > 0 {
				db.log.Debug("value log gc", "rewritten", n)
			}
		}
	}
}

// Close stops background work, closes the engine and then the backend.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	close(db.stop)
	db.bgWg.Wait()

	var errs []error
	if db.graph != nil {
		errs = append(errs, db.graph.Close())
	}
	if db.badger != nil {
		errs = append(errs, db.badger.Sync())
	}
	errs = append(errs, db.backend.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close errors: %w", err)
	}
	return nil
}
