package kvstore

import (
	"bytes"
	"context"
	"fmt"
)

// Session is an exclusive update session on one key.
//
// A Session is only valid inside the callback it was handed to. It is not
// safe for use from other goroutines.
type Session[K any, V any] struct {
	store   *Store[K, V]
	key     K
	rawKey  []byte
	segment uint32

	cur     V
	present bool
	closed  bool
}

// Key returns the key the session is bound to.
func (s *Session[K, V]) Key() K { return s.key }

// Entry returns the current value and whether an entry exists.
func (s *Session[K, V]) Entry() (V, bool) {
	return s.cur, s.present
}

// Insert creates the entry. It fails with ErrEntryExists when the key is
// already present and with ErrCapacityExceeded when the store is full.
func (s *Session[K, V]) Insert(v V) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.present {
		return fmt.Errorf("store %s: %w", s.store.info.Name, ErrEntryExists)
	}
	data, err := s.store.vals.Encode(v)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.store.info.Name, err)
	}
	if err := s.store.reserve(); err != nil {
		return err
	}
	if err := s.store.ks.Set(s.rawKey, data); err != nil {
		s.store.count.Add(-1)
		return err
	}
	s.cur, s.present = v, true
	return nil
}

// Replace overwrites an existing entry. It fails with ErrEntryAbsent when
// there is nothing to replace.
func (s *Session[K, V]) Replace(v V) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.present {
		return fmt.Errorf("store %s: %w", s.store.info.Name, ErrEntryAbsent)
	}
	data, err := s.store.vals.Encode(v)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.store.info.Name, err)
	}
	if err := s.store.ks.Set(s.rawKey, data); err != nil {
		return err
	}
	s.cur = v
	return nil
}

// Remove deletes the entry. It fails with ErrEntryAbsent when there is no
// entry.
func (s *Session[K, V]) Remove() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.present {
		return fmt.Errorf("store %s: %w", s.store.info.Name, ErrEntryAbsent)
	}
	if err := s.store.ks.Delete(s.rawKey); err != nil {
		return err
	}
	s.store.count.Add(-1)
	var zero V
	s.cur, s.present = zero, false
	return nil
}

func (s *Session[K, V]) load() error {
	data, ok, err := s.store.ks.Get(s.rawKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	v, err := s.store.vals.Decode(data)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.store.info.Name, err)
	}
	s.cur, s.present = v, true
	return nil
}

func (s *Session[K, V]) close() { s.closed = true }

// UpdatePair runs fn with exclusive sessions on k1 in s1 and k2 in s2.
//
// Locks are acquired in ascending OrderToken order regardless of argument
// order, and released in reverse. When both keys fall under the same segment
// lock it is taken once. Both stores must belong to the same Backend for the
// ordering to be global.
//
// Example:
//
//	err := kvstore.UpdatePair(ctx, out, "alice", in, "bob",
//		func(a, b *kvstore.Session[string, []string]) error {
//			// both entries are locked here
//			return nil
//		})
func UpdatePair[K any, V any](ctx context.Context, s1 *Store[K, V], k1 K, s2 *Store[K, V], k2 K, fn func(a, b *Session[K, V]) error) error {
	a, err := s1.prepare(k1)
	if err != nil {
		return err
	}
	b, err := s2.prepare(k2)
	if err != nil {
		return err
	}

	if s1 == s2 && bytes.Equal(a.rawKey, b.rawKey) {
		return fmt.Errorf("store %s: pair session needs two distinct keys", s1.info.Name)
	}

	type held struct {
		lock    *segmentLock
		acquire func(context.Context, *segmentLock, uint32) error
		segment uint32
	}
	first := held{s1.locks.segment(a.segment), s1.acquire, a.segment}
	second := held{s2.locks.segment(b.segment), s2.acquire, b.segment}
	ta := OrderToken{Segment: a.segment, Rank: s1.info.Rank}
	tb := OrderToken{Segment: b.segment, Rank: s2.info.Rank}
	if ta.Compare(tb) > 0 {
		first, second = second, first
	}

	if err := first.acquire(ctx, first.lock, first.segment); err != nil {
		return err
	}
	defer first.lock.release()
	if second.lock != first.lock {
		if err := second.acquire(ctx, second.lock, second.segment); err != nil {
			return err
		}
		defer second.lock.release()
	}
	defer a.close()
	defer b.close()

	if err := a.load(); err != nil {
		return err
	}
	if err := b.load(); err != nil {
		return err
	}
	return fn(a, b)
}
