// Package graph implements LinkDB's graph engine: nodes and directed, typed
// relationships with properties over fixed-capacity kvstore stores.
//
// An Engine owns four kinds of stores on one kvstore.Backend:
//   - the node store (NodeID -> properties)
//   - the relationship property store ((type, from, to) -> properties)
//   - per relationship type, an outgoing adjacency store (node -> targets)
//   - per relationship type, an incoming adjacency store (node -> sources)
//
// The defining invariant is bidirectional consistency: for every type T and
// nodes a, b, b is in out(T, a) if and only if a is in in(T, b). It holds
// after every completed mutation. Both halves of an edge are written under
// the locks of both keys, acquired in a global order, so there is no global
// lock and concurrent mutations touching the same pair cannot deadlock.
//
// Example Usage:
//
//	backend := kvstore.NewMemoryBackend()
//	defer backend.Close()
//
//	engine, err := graph.New(backend, graph.DefaultOptions(), slog.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	if err := engine.RegisterType("FRIENDS", 10_000, 100, 100); err != nil {
//		log.Fatal(err)
//	}
//	engine.AddNode(ctx, "one", value.Null())
//	engine.AddNode(ctx, "two", value.Null())
//
//	engine.AddRelationship(ctx, "FRIENDS", "one", "two",
//		value.Map(map[string]value.Value{"since": value.Int(2019)}))
//
//	friends, _ := engine.OutgoingNeighbors("FRIENDS", "one")
//	fmt.Println(friends.Sorted()) // [two]
//
//	// Removes "one" and every relationship touching it, of every type.
//	engine.RemoveNode(ctx, "one")
//
// Consistency Model:
//
// Single-key operations are linearizable. Readers never take locks: a read
// racing with a mutation sees either the old or the new state of each key.
// Removing a node while relationships to it are being added concurrently is
// best-effort; a racing add may leave an edge to the deleted node. Callers
// that need strict ordering must serialize node deletion against relationship
// mutation themselves.
package graph

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/orneryd/linkdb/pkg/kvstore"
	"github.com/orneryd/linkdb/pkg/value"
)

// Engine is an embedded graph store.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Engine struct {
	backend kvstore.Backend
	opts    Options
	log     *slog.Logger
	metrics *Metrics

	nodes *kvstore.Store[NodeID, value.Value]
	rels  *kvstore.Store[RelationshipID, value.Value]
	types *registry
	ids   kvstore.Sequencer

	closed atomic.Bool
}

// New opens an engine on backend.
//
// Relationship types whose stores already exist in the backend catalog, for
// example from an earlier process on a persistent backend, are registered
// again with their original sizing. A nil logger discards all output.
//
// The backend stays owned by the caller and must outlive the engine.
func New(backend kvstore.Backend, opts Options, logger *slog.Logger) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "graph")

	storeOpts := kvstore.Options{LockTimeout: opts.LockTimeout}
	nodes, err := kvstore.Open(backend, nodeStoreName, kvstore.Sizing{
		MaxEntries: opts.NodeCapacity,
		AvgKeySize: opts.AvgNodeIDSize,
	}, kvstore.StringCodec[NodeID]{}, kvstore.MsgpackCodec[value.Value]{}, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("opening node store: %w", err)
	}
	rels, err := kvstore.Open(backend, relationshipStoreName, kvstore.Sizing{
		MaxEntries: opts.RelationshipCapacity,
		AvgKeySize: 2*opts.AvgNodeIDSize + 16,
	}, relationshipKeyCodec{}, kvstore.MsgpackCodec[value.Value]{}, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("opening relationship store: %w", err)
	}

	metrics, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		backend: backend,
		opts:    opts,
		log:     logger,
		metrics: metrics,
		nodes:   nodes,
		rels:    rels,
		types:   newRegistry(backend, opts, logger),
	}
	if opts.IDStrategy == IDSequential {
		if e.ids, err = backend.Sequence(nodeStoreName); err != nil {
			return nil, fmt.Errorf("opening node id sequence: %w", err)
		}
	}
	if err := e.types.rehydrate(); err != nil {
		return nil, err
	}

	logger.Info("graph engine opened",
		"nodes", nodes.Size(),
		"relationships", rels.Size(),
		"types", len(e.types.all()),
		"id_strategy", string(opts.IDStrategy))
	return e, nil
}

// Options returns the effective options, defaults filled in.
func (e *Engine) Options() Options { return e.opts }

// Metrics returns the engine's Prometheus collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Close marks the engine closed. Subsequent operations fail with
// ErrEngineClosed. The backend is not closed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.types.close()
	e.nodes.Close()
	e.rels.Close()
	e.log.Info("graph engine closed")
	return nil
}

func (e *Engine) ensureOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// observe feeds an operation's outcome into logs and metrics and returns err
// unchanged.
func (e *Engine) observe(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kvstore.ErrLockTimeout) {
		e.metrics.LockTimeouts.Inc()
	}
	var iv *InvariantViolationError
	if errors.As(err, &iv) {
		e.metrics.InvariantViolations.WithLabelValues(iv.Type).Inc()
		e.log.Error("adjacency invariant violated",
			"type", iv.Type, "from", string(iv.From), "to", string(iv.To),
			"missing", iv.Missing.String())
	}
	return err
}
