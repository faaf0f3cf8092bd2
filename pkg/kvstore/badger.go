package kvstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
const (
	prefixCatalog  = byte(0x01) // catalog:name -> JSON(Sizing)
	prefixData     = byte(0x02) // data:name:0x00:key -> value
	prefixSequence = byte(0x03) // sequence:name -> badger sequence state
)

const defaultSequenceBandwidth = 128

// BadgerOptions configures the BadgerDB backend.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// LowMemory shrinks memtables and caches for constrained hosts.
	LowMemory bool

	// Logger receives BadgerDB's internal log lines.
	// If nil, BadgerDB logging is disabled.
	Logger *slog.Logger

	// SequenceBandwidth is how many sequence numbers are leased from disk
	// at once. Unused leases are returned on Close.
	SequenceBandwidth uint64

	// BlockCacheSize overrides BadgerDB's block cache size in bytes.
	// 0 keeps the default (or the LowMemory setting).
	BlockCacheSize int64
}

// BadgerBackend stores every keyspace in one BadgerDB instance.
//
// Key Structure:
//   - Catalog:   0x01 + name -> JSON(Sizing)
//   - Data:      0x02 + name + 0x00 + key -> value
//   - Sequences: 0x03 + name -> badger.Sequence state
//
// Example:
//
//	backend, err := kvstore.NewBadgerBackend(kvstore.BadgerOptions{
//		DataDir: "./data/linkdb",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer backend.Close()
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type BadgerBackend struct {
	db        *badger.DB
	bandwidth uint64

	mu        sync.Mutex
	ranks     map[string]uint64
	nextRank  uint64
	sequences map[string]*badger.Sequence
	closed    bool
}

// NewBadgerBackend opens (or creates) a BadgerDB-backed store backend.
func NewBadgerBackend(opts BadgerOptions) (*BadgerBackend, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.DataDir == "" {
			return nil, errors.New("data directory is required for persistent backend")
		}
		if err := os.MkdirAll(opts.DataDir, 0750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", opts.DataDir, err)
		}
		badgerOpts = badger.DefaultOptions(opts.DataDir)
	}

	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites)
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}
	if opts.BlockCacheSize > 0 {
		badgerOpts = badgerOpts.WithBlockCacheSize(opts.BlockCacheSize)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	bandwidth := opts.SequenceBandwidth
	if bandwidth == 0 {
		bandwidth = defaultSequenceBandwidth
	}

	return &BadgerBackend{
		db:        db,
		bandwidth: bandwidth,
		ranks:     make(map[string]uint64),
		sequences: make(map[string]*badger.Sequence),
	}, nil
}

// NewBadgerBackendInMemory creates an in-memory BadgerDB backend for tests.
func NewBadgerBackendInMemory() (*BadgerBackend, error) {
	return NewBadgerBackend(BadgerOptions{InMemory: true})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func catalogKey(name string) []byte {
	return append([]byte{prefixCatalog}, name...)
}

func dataPrefix(name string) []byte {
	key := make([]byte, 0, 2+len(name))
	key = append(key, prefixData)
	key = append(key, name...)
	key = append(key, 0x00)
	return key
}

func sequenceKey(name string) []byte {
	return append([]byte{prefixSequence}, name...)
}

func validateStoreName(name string) error {
	if name == "" || strings.IndexByte(name, 0x00) >= 0 {
		return fmt.Errorf("invalid store name %q", name)
	}
	return nil
}

// ============================================================================
// Backend implementation
// ============================================================================

// Create implements Backend.
func (b *BadgerBackend) Create(name string, sizing Sizing) (Keyspace, StoreInfo, error) {
	if err := validateStoreName(name); err != nil {
		return nil, StoreInfo{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, StoreInfo{}, ErrBackendClosed
	}

	sizing = sizing.normalize()
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(catalogKey(name))
		if err == nil {
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sizing)
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(sizing)
		if err != nil {
			return err
		}
		return txn.Set(catalogKey(name), data)
	})
	if err != nil {
		return nil, StoreInfo{}, fmt.Errorf("cataloguing store %s: %w", name, err)
	}

	return &badgerKeyspace{db: b.db, prefix: dataPrefix(name)}, StoreInfo{
		Name:   name,
		Sizing: sizing,
		Rank:   b.rankLocked(name),
	}, nil
}

// rankLocked assigns process-local ranks in first-open order.
func (b *BadgerBackend) rankLocked(name string) uint64 {
	if r, ok := b.ranks[name]; ok {
		return r
	}
	b.nextRank++
	b.ranks[name] = b.nextRank
	return b.nextRank
}

// Catalog implements Backend.
func (b *BadgerBackend) Catalog() ([]StoreInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	var out []StoreInfo
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixCatalog}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			info := StoreInfo{Name: string(item.Key()[1:])}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &info.Sizing)
			}); err != nil {
				return fmt.Errorf("decoding catalog entry %s: %w", info.Name, err)
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for i := range out {
		out[i].Rank = b.rankLocked(out[i].Name)
	}
	return out, nil
}

// Drop implements Backend.
func (b *BadgerBackend) Drop(name string) error {
	if err := validateStoreName(name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}

	if err := b.db.DropPrefix(dataPrefix(name)); err != nil {
		return fmt.Errorf("dropping store %s: %w", name, err)
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(catalogKey(name))
	}); err != nil {
		return fmt.Errorf("dropping catalog entry %s: %w", name, err)
	}
	delete(b.ranks, name)
	return nil
}

// Sequence implements Backend.
func (b *BadgerBackend) Sequence(name string) (Sequencer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	if seq, ok := b.sequences[name]; ok {
		return seq, nil
	}
	seq, err := b.db.GetSequence(sequenceKey(name), b.bandwidth)
	if err != nil {
		return nil, fmt.Errorf("opening sequence %s: %w", name, err)
	}
	b.sequences[name] = seq
	return seq, nil
}

// Close releases leased sequence ranges and closes the database.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for name, seq := range b.sequences {
		if err := seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing sequence %s: %w", name, err))
		}
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sync forces a sync of all data to disk.
func (b *BadgerBackend) Sync() error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBackendClosed
	}
	return b.db.Sync()
}

// RunGC runs one round of value log garbage collection. It reports false
// when there was nothing to rewrite.
func (b *BadgerBackend) RunGC(discardRatio float64) (bool, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false, ErrBackendClosed
	}

	err := b.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size returns the approximate LSM and value log sizes in bytes.
func (b *BadgerBackend) Size() (lsm, vlog int64) {
	return b.db.Size()
}

// ============================================================================
// Keyspace
// ============================================================================

type badgerKeyspace struct {
	db     *badger.DB
	prefix []byte
}

func (ks *badgerKeyspace) key(k []byte) []byte {
	out := make([]byte, 0, len(ks.prefix)+len(k))
	out = append(out, ks.prefix...)
	return append(out, k...)
}

func (ks *badgerKeyspace) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := ks.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ks.key(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (ks *badgerKeyspace) Set(key, val []byte) error {
	return ks.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ks.key(key), val)
	})
}

func (ks *badgerKeyspace) Delete(key []byte) error {
	return ks.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(ks.key(key))
	})
}

func (ks *badgerKeyspace) Len() (int, error) {
	n := 0
	err := ks.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = ks.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (ks *badgerKeyspace) Range(fn func(key, val []byte) bool) error {
	return ks.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = ks.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := bytes.TrimPrefix(item.KeyCopy(nil), ks.prefix)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(key, val) {
				return nil
			}
		}
		return nil
	})
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
