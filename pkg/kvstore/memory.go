package kvstore

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// MemoryBackend keeps every store in process memory.
//
// Each keyspace is split into the same number of segments as its lock table,
// each a map guarded by its own RWMutex, and maps are pre-sized from the
// store's MaxEntries. Data is lost when the process exits.
//
// Example:
//
//	backend := kvstore.NewMemoryBackend()
//	defer backend.Close()
type MemoryBackend struct {
	mu        sync.Mutex
	stores    map[string]*memoryKeyspace
	infos     map[string]StoreInfo
	sequences map[string]*memorySequence
	rank      uint64
	closed    bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		stores:    make(map[string]*memoryKeyspace),
		infos:     make(map[string]StoreInfo),
		sequences: make(map[string]*memorySequence),
	}
}

// Create implements Backend.
func (m *MemoryBackend) Create(name string, sizing Sizing) (Keyspace, StoreInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, StoreInfo{}, ErrBackendClosed
	}
	if ks, ok := m.stores[name]; ok {
		return ks, m.infos[name], nil
	}

	sizing = sizing.normalize()
	m.rank++
	info := StoreInfo{Name: name, Sizing: sizing, Rank: m.rank}
	ks := newMemoryKeyspace(sizing)
	m.stores[name] = ks
	m.infos[name] = info
	return ks, info, nil
}

// Catalog implements Backend.
func (m *MemoryBackend) Catalog() ([]StoreInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBackendClosed
	}
	out := make([]StoreInfo, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Drop implements Backend.
func (m *MemoryBackend) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBackendClosed
	}
	if ks, ok := m.stores[name]; ok {
		ks.clear()
	}
	delete(m.stores, name)
	delete(m.infos, name)
	return nil
}

// Sequence implements Backend.
func (m *MemoryBackend) Sequence(name string) (Sequencer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBackendClosed
	}
	seq, ok := m.sequences[name]
	if !ok {
		seq = &memorySequence{}
		m.sequences[name] = seq
	}
	return seq, nil
}

// Close implements Backend. Closing twice is a no-op.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

type memorySequence struct {
	next atomic.Uint64
}

func (s *memorySequence) Next() (uint64, error) {
	return s.next.Add(1) - 1, nil
}

type memorySegment struct {
	mu sync.RWMutex
	m  map[string][]byte
}

type memoryKeyspace struct {
	mask     uint64
	segments []memorySegment
}

func newMemoryKeyspace(sizing Sizing) *memoryKeyspace {
	ks := &memoryKeyspace{
		mask:     uint64(sizing.Segments - 1),
		segments: make([]memorySegment, sizing.Segments),
	}
	perSegment := sizing.MaxEntries / sizing.Segments
	for i := range ks.segments {
		ks.segments[i].m = make(map[string][]byte, perSegment)
	}
	return ks
}

func (ks *memoryKeyspace) segment(key []byte) *memorySegment {
	return &ks.segments[xxhash.Sum64(key)&ks.mask]
}

func (ks *memoryKeyspace) Get(key []byte) ([]byte, bool, error) {
	seg := ks.segment(key)
	seg.mu.RLock()
	defer seg.mu.RUnlock()
	v, ok := seg.m[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (ks *memoryKeyspace) Set(key, val []byte) error {
	cp := make([]byte, len(val))
	copy(cp, val)
	seg := ks.segment(key)
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.m == nil {
		return fmt.Errorf("memory keyspace: %w", ErrBackendClosed)
	}
	seg.m[string(key)] = cp
	return nil
}

func (ks *memoryKeyspace) Delete(key []byte) error {
	seg := ks.segment(key)
	seg.mu.Lock()
	defer seg.mu.Unlock()
	delete(seg.m, string(key))
	return nil
}

func (ks *memoryKeyspace) Len() (int, error) {
	n := 0
	for i := range ks.segments {
		seg := &ks.segments[i]
		seg.mu.RLock()
		n += len(seg.m)
		seg.mu.RUnlock()
	}
	return n, nil
}

// Range snapshots one segment at a time and calls fn outside the segment
// lock, so fn may write to the same keyspace.
func (ks *memoryKeyspace) Range(fn func(key, val []byte) bool) error {
	for i := range ks.segments {
		seg := &ks.segments[i]
		seg.mu.RLock()
		keys := make([]string, 0, len(seg.m))
		vals := make([][]byte, 0, len(seg.m))
		for k, v := range seg.m {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		seg.mu.RUnlock()

		for j := range keys {
			if !fn([]byte(keys[j]), vals[j]) {
				return nil
			}
		}
	}
	return nil
}

func (ks *memoryKeyspace) clear() {
	for i := range ks.segments {
		seg := &ks.segments[i]
		seg.mu.Lock()
		seg.m = nil
		seg.mu.Unlock()
	}
}
