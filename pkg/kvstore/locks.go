package kvstore

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

// segmentLock is an exclusive lock with context-aware acquisition.
type segmentLock struct {
	sem *semaphore.Weighted
}

func (l *segmentLock) acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *segmentLock) release() {
	l.sem.Release(1)
}

// lockTable maps keys onto a fixed, power-of-two number of segment locks.
type lockTable struct {
	mask     uint64
	segments []segmentLock
}

func newLockTable(n int) *lockTable {
	t := &lockTable{
		mask:     uint64(n - 1),
		segments: make([]segmentLock, n),
	}
	for i := range t.segments {
		t.segments[i].sem = semaphore.NewWeighted(1)
	}
	return t
}

func (t *lockTable) index(rawKey []byte) uint32 {
	return uint32(xxhash.Sum64(rawKey) & t.mask)
}

func (t *lockTable) segment(i uint32) *segmentLock {
	return &t.segments[i]
}
