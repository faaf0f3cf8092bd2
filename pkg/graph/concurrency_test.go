package graph

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/linkdb/pkg/kvstore"
	"github.com/orneryd/linkdb/pkg/value"
)

// waitOrFail fails the test when wg does not finish in time, which is how a
// deadlock shows up.
func waitOrFail(t *testing.T, wg *sync.WaitGroup, limit time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(limit):
		t.Fatalf("workers did not finish within %s", limit)
	}
}

func TestConcurrency_ReverseRemovalsDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultOptions())
	require.NoError(t, e.RegisterType("FRIENDS", 10_000, 4, 4))

	const pairs = 500
	for i := 0; i < pairs; i++ {
		a, b := NodeID(fmt.Sprintf("a%d", i)), NodeID(fmt.Sprintf("b%d", i))
		_, err := e.AddRelationship(ctx, "FRIENDS", a, b, value.Null())
		require.NoError(t, err)
		_, err = e.AddRelationship(ctx, "FRIENDS", b, a, value.Null())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*pairs)
	for i := 0; i < pairs; i++ {
		a, b := NodeID(fmt.Sprintf("a%d", i)), NodeID(fmt.Sprintf("b%d", i))
		wg.Add(2)
		go func() {
			defer wg.Done()
			existed, err := e.RemoveRelationship(ctx, "FRIENDS", a, b)
			if err == nil && !existed {
				err = fmt.Errorf("%s->%s was not found", a, b)
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			existed, err := e.RemoveRelationship(ctx, "FRIENDS", b, a)
			if err == nil && !existed {
				err = fmt.Errorf("%s->%s was not found", b, a)
			}
			errs <- err
		}()
	}
	waitOrFail(t, &wg, 30*time.Second)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := e.TypeStats("FRIENDS")
	require.NoError(t, err)
	assert.Equal(t, TypeStats{}, stats)
	require.NoError(t, e.CheckInvariants(ctx))
}

func TestConcurrency_MixedMutationsKeepInvariant(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{"memory", "badger"} {
		t.Run(backend, func(t *testing.T) {
			var b kvstore.Backend = kvstore.NewMemoryBackend()
			if backend == "badger" {
				bb, err := kvstore.NewBadgerBackendInMemory()
				require.NoError(t, err)
				b = bb
			}
			t.Cleanup(func() { b.Close() })

			e, err := New(b, DefaultOptions(), nil)
			require.NoError(t, err)
			defer e.Close()
			require.NoError(t, e.RegisterType("LINK", 1000, 8, 8))
			require.NoError(t, e.RegisterType("OTHER", 1000, 8, 8))

			nodes := make([]NodeID, 12)
			for i := range nodes {
				nodes[i] = NodeID(fmt.Sprintf("n%d", i))
			}

			const workers, ops = 8, 300
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(seed int64) {
					defer wg.Done()
					rng := rand.New(rand.NewSource(seed))
					for i := 0; i < ops; i++ {
						typ := "LINK"
						if rng.Intn(3) == 0 {
							typ = "OTHER"
						}
						from, to := nodes[rng.Intn(len(nodes))], nodes[rng.Intn(len(nodes))]
						if from == to {
							continue
						}
						var err error
						if rng.Intn(2) == 0 {
							_, err = e.AddRelationship(ctx, typ, from, to, stars(int64(i)))
						} else {
							_, err = e.RemoveRelationship(ctx, typ, from, to)
						}
						if err != nil {
							errs <- err
							return
						}
					}
				}(int64(w))
			}
			waitOrFail(t, &wg, time.Minute)
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}
			require.NoError(t, e.CheckInvariants(ctx))
		})
	}
}

func TestConcurrency_RemoveNodeDuringUnrelatedMutations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultOptions())
	require.NoError(t, e.RegisterType("T", 1000, 8, 8))

	// victim has edges to and from hub nodes that other workers also mutate.
	for i := 0; i < 20; i++ {
		peer := NodeID(fmt.Sprintf("p%d", i))
		_, err := e.AddRelationship(ctx, "T", "victim", peer, value.Null())
		require.NoError(t, err)
		_, err = e.AddRelationship(ctx, "T", peer, "victim", value.Null())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				from := NodeID(fmt.Sprintf("p%d", (i+w)%20))
				to := NodeID(fmt.Sprintf("p%d", (i+w+1)%20))
				_, err := e.AddRelationship(ctx, "T", from, to, value.Null())
				assert.NoError(t, err)
				_, err = e.RemoveRelationship(ctx, "T", to, from)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := e.RemoveNode(ctx, "victim")
		assert.NoError(t, err)
	}()
	waitOrFail(t, &wg, time.Minute)

	out, err := e.OutgoingNeighbors("T", "victim")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	in, err := e.IncomingNeighbors("T", "victim")
	require.NoError(t, err)
	assert.Equal(t, 0, in.Len())
	require.NoError(t, e.CheckInvariants(ctx))
}

func TestConcurrency_LockTimeoutSurfaces(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.LockTimeout = 20 * time.Millisecond
	e := newTestEngine(t, opts)
	require.NoError(t, e.RegisterType("T", 100, 4, 4))

	rt, _ := e.types.lookup("T")
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = rt.out.Update(ctx, "a", func(*adjacencySession) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := e.AddRelationship(ctx, "T", "a", "b", value.Null())
	assert.ErrorIs(t, err, kvstore.ErrLockTimeout)
	close(release)

	_, err = e.AddRelationship(ctx, "T", "a", "b", value.Null())
	require.NoError(t, err)
}

func TestConcurrency_FailedAddRestoresProperties(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.LockTimeout = 20 * time.Millisecond
	e := newTestEngine(t, opts)
	require.NoError(t, e.RegisterType("RATED", 100, 4, 4))

	_, err := e.AddRelationship(ctx, "RATED", "a", "b", stars(1))
	require.NoError(t, err)

	rt, _ := e.types.lookup("RATED")
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.out.Update(ctx, "a", func(*adjacencySession) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err = e.AddRelationship(ctx, "RATED", "a", "b", stars(5))
	assert.ErrorIs(t, err, kvstore.ErrLockTimeout)
	_, err = e.AddRelationship(ctx, "RATED", "a", "c", stars(3))
	assert.ErrorIs(t, err, kvstore.ErrLockTimeout)
	close(release)
	<-done

	props, ok, err := e.GetRelationship("RATED", "a", "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, props.Equal(stars(1)), "overwritten properties are put back, got %s", props)

	_, ok, err = e.GetRelationship("RATED", "a", "c")
	require.NoError(t, err)
	assert.False(t, ok, "properties of a never-linked edge are removed")
	require.NoError(t, e.CheckInvariants(ctx))
}
