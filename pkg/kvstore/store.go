// Package kvstore provides fixed-capacity, concurrently lockable key-value
// stores for LinkDB.
//
// A Store maps typed keys to typed values on top of a raw Backend keyspace.
// Keys are hashed into segments and every segment carries an exclusive lock.
// Mutations happen inside an update session, which holds the key's segment
// lock for the duration of a read-modify-write and is released on every exit
// path.
//
// Design Principles:
//   - Per-key (segment) locking, no store-wide lock
//   - Values are encoded on write and decoded on read, so reads are snapshots
//   - Capacity is fixed at creation: inserting past MaxEntries fails
//   - Lock waits are bounded by context and Options.LockTimeout
//
// Example Usage:
//
//	backend := kvstore.NewMemoryBackend()
//	defer backend.Close()
//
//	counts, err := kvstore.Open(backend, "counts",
//		kvstore.Sizing{MaxEntries: 10_000},
//		kvstore.StringCodec[string]{}, kvstore.JSONCodec[int]{},
//		kvstore.Options{LockTimeout: time.Second})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Atomic increment
//	err = counts.Update(ctx, "visits", func(s *kvstore.Session[string, int]) error {
//		n, ok := s.Entry()
//		if !ok {
//			return s.Insert(1)
//		}
//		return s.Replace(n + 1)
//	})
//
// Two keys, possibly in two stores of the same backend, are locked together
// with UpdatePair, which always acquires segment locks in OrderToken order so
// concurrent pair sessions cannot deadlock.
//
// ELI12:
//
// Imagine a huge wall of lockers. Instead of one guard for the whole wall,
// every column of lockers has its own padlock. To change a locker you take
// the padlock for its column, do your change, and hang the padlock back. If
// you need two columns at once, everybody agrees to always grab the column
// with the smaller number first, so two people can never end up each holding
// the padlock the other one is waiting for.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrLockTimeout      = errors.New("lock timeout")
	ErrCapacityExceeded = errors.New("store capacity exceeded")
	ErrEntryExists      = errors.New("entry already exists")
	ErrEntryAbsent      = errors.New("entry absent")
	ErrSessionClosed    = errors.New("session closed")
	ErrBackendClosed    = errors.New("backend closed")
)

const (
	defaultAvgKeySize   = 16
	defaultAvgValueSize = 64
	minSegments         = 16
	maxSegments         = 1024
	entriesPerSegment   = 1024
)

// Sizing carries the pre-allocation hints for a store.
//
// MaxEntries is the store's fixed capacity (0 means unbounded). The average
// sizes only influence memory pre-sizing and footprint estimates.
type Sizing struct {
	MaxEntries   int `json:"max_entries"`
	AvgKeySize   int `json:"avg_key_size"`
	AvgValueSize int `json:"avg_value_size"`

	// Segments is the number of lock segments. 0 derives a power of two
	// from MaxEntries.
	Segments int `json:"segments"`
}

// normalize fills in defaults and rounds Segments to a power of two.
func (z Sizing) normalize() Sizing {
	if z.AvgKeySize <= 0 {
		z.AvgKeySize = defaultAvgKeySize
	}
	if z.AvgValueSize <= 0 {
		z.AvgValueSize = defaultAvgValueSize
	}
	n := z.Segments
	if n <= 0 {
		n = z.MaxEntries / entriesPerSegment
	}
	seg := minSegments
	for seg < n && seg < maxSegments {
		seg <<= 1
	}
	z.Segments = seg
	return z
}

// EstimatedBytes is the approximate footprint of a full store.
func (z Sizing) EstimatedBytes() int64 {
	z = z.normalize()
	return int64(z.MaxEntries) * int64(z.AvgKeySize+z.AvgValueSize)
}

// Options configures runtime behavior of a Store.
type Options struct {
	// LockTimeout bounds every segment lock wait. 0 waits until the
	// caller's context is done.
	LockTimeout time.Duration
}

// Store is a typed, fixed-capacity store with per-segment locking.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Mutations serialize per segment.
type Store[K any, V any] struct {
	info   StoreInfo
	ks     Keyspace
	keys   Codec[K]
	vals   Codec[V]
	locks  *lockTable
	opts   Options
	count  atomic.Int64
	closed atomic.Bool
}

// Open creates or reopens the named store on backend.
func Open[K any, V any](backend Backend, name string, sizing Sizing, keys Codec[K], vals Codec[V], opts Options) (*Store[K, V], error) {
	if name == "" {
		return nil, errors.New("store name is required")
	}
	ks, info, err := backend.Create(name, sizing.normalize())
	if err != nil {
		return nil, fmt.Errorf("creating store %s: %w", name, err)
	}
	info.Sizing = info.Sizing.normalize()

	n, err := ks.Len()
	if err != nil {
		return nil, fmt.Errorf("counting store %s: %w", name, err)
	}

	s := &Store[K, V]{
		info:  info,
		ks:    ks,
		keys:  keys,
		vals:  vals,
		locks: newLockTable(info.Sizing.Segments),
		opts:  opts,
	}
	s.count.Store(int64(n))
	return s, nil
}

// Name returns the store name.
func (s *Store[K, V]) Name() string { return s.info.Name }

// Info returns the catalog description of the store.
func (s *Store[K, V]) Info() StoreInfo { return s.info }

// Size returns the number of entries currently in the store.
func (s *Store[K, V]) Size() int { return int(s.count.Load()) }

// Capacity returns MaxEntries, 0 meaning unbounded.
func (s *Store[K, V]) Capacity() int { return s.info.Sizing.MaxEntries }

// ContainsKey reports whether key has an entry.
func (s *Store[K, V]) ContainsKey(key K) (bool, error) {
	raw, err := s.keys.Encode(key)
	if err != nil {
		return false, err
	}
	_, ok, err := s.ks.Get(raw)
	return ok, err
}

// Get returns a decoded copy of the value under key.
func (s *Store[K, V]) Get(key K) (V, bool, error) {
	var zero V
	raw, err := s.keys.Encode(key)
	if err != nil {
		return zero, false, err
	}
	data, ok, err := s.ks.Get(raw)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := s.vals.Decode(data)
	if err != nil {
		return zero, false, fmt.Errorf("store %s: %w", s.info.Name, err)
	}
	return v, true, nil
}

// Put creates or overwrites the entry under key.
func (s *Store[K, V]) Put(ctx context.Context, key K, val V) error {
	return s.Update(ctx, key, func(sess *Session[K, V]) error {
		if _, ok := sess.Entry(); ok {
			return sess.Replace(val)
		}
		return sess.Insert(val)
	})
}

// Remove deletes the entry under key and reports whether it existed.
func (s *Store[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	var removed bool
	err := s.Update(ctx, key, func(sess *Session[K, V]) error {
		if _, ok := sess.Entry(); !ok {
			return nil
		}
		removed = true
		return sess.Remove()
	})
	return removed, err
}

// Range calls fn with decoded copies of every entry until fn returns false.
// Range takes no locks; entries mutated concurrently may be seen in either
// state.
func (s *Store[K, V]) Range(fn func(key K, val V) bool) error {
	var decodeErr error
	err := s.ks.Range(func(rk, rv []byte) bool {
		k, err := s.keys.Decode(rk)
		if err != nil {
			decodeErr = err
			return false
		}
		v, err := s.vals.Decode(rv)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(k, v)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// Update runs fn inside an exclusive update session on key.
//
// The session lock is held until fn returns and is released on every exit
// path, including panics. Writes issued through the session are applied
// immediately; an error returned by fn does not roll them back.
func (s *Store[K, V]) Update(ctx context.Context, key K, fn func(*Session[K, V]) error) error {
	sess, err := s.prepare(key)
	if err != nil {
		return err
	}
	lock := s.locks.segment(sess.segment)
	if err := s.acquire(ctx, lock, sess.segment); err != nil {
		return err
	}
	defer lock.release()
	defer sess.close()

	if err := sess.load(); err != nil {
		return err
	}
	return fn(sess)
}

// OrderToken returns the stable lock-order position of key.
func (s *Store[K, V]) OrderToken(key K) (OrderToken, error) {
	raw, err := s.keys.Encode(key)
	if err != nil {
		return OrderToken{}, err
	}
	return OrderToken{Segment: s.locks.index(raw), Rank: s.info.Rank}, nil
}

// Close marks the store unusable. The backend owns the underlying data.
func (s *Store[K, V]) Close() {
	s.closed.Store(true)
}

func (s *Store[K, V]) prepare(key K) (*Session[K, V], error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("store %s: %w", s.info.Name, ErrBackendClosed)
	}
	raw, err := s.keys.Encode(key)
	if err != nil {
		return nil, fmt.Errorf("store %s: encoding key: %w", s.info.Name, err)
	}
	return &Session[K, V]{
		store:   s,
		key:     key,
		rawKey:  raw,
		segment: s.locks.index(raw),
	}, nil
}

func (s *Store[K, V]) acquire(ctx context.Context, lock *segmentLock, segment uint32) error {
	if s.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
	}
	if err := lock.acquire(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: store %s segment %d", ErrLockTimeout, s.info.Name, segment)
		}
		return err
	}
	return nil
}

// reserve claims one unit of capacity for a new entry.
func (s *Store[K, V]) reserve() error {
	limit := int64(s.info.Sizing.MaxEntries)
	for {
		c := s.count.Load()
		if limit > 0 && c >= limit {
			return fmt.Errorf("%w: store %s holds %d of %d entries", ErrCapacityExceeded, s.info.Name, c, limit)
		}
		if s.count.CompareAndSwap(c, c+1) {
			return nil
		}
	}
}

// OrderToken positions a key in the global lock order of one backend.
//
// Tokens order by segment first and store rank second. Two keys with equal
// tokens share one lock.
type OrderToken struct {
	Segment uint32
	Rank    uint64
}

// Compare returns -1, 0 or +1.
func (t OrderToken) Compare(o OrderToken) int {
	switch {
	case t.Segment < o.Segment:
		return -1
	case t.Segment > o.Segment:
		return 1
	case t.Rank < o.Rank:
		return -1
	case t.Rank > o.Rank:
		return 1
	}
	return 0
}
