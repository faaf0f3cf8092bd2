package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/orneryd/linkdb/pkg/kvstore"
)

// Store naming within a backend. Relationship types own two stores each.
const (
	nodeStoreName         = "nodes"
	relationshipStoreName = "relationships"
	adjacencyPrefix       = "rel:"
	outSuffix             = ":out"
	inSuffix              = ":in"

	// Fixed per-entry overhead of an encoded neighbor set.
	setOverhead = 8
)

func adjacencyStoreName(typ string, dir Direction) string {
	if dir == Incoming {
		return adjacencyPrefix + typ + inSuffix
	}
	return adjacencyPrefix + typ + outSuffix
}

// parseAdjacencyStoreName is the inverse of adjacencyStoreName.
func parseAdjacencyStoreName(name string) (string, Direction, bool) {
	rest, ok := strings.CutPrefix(name, adjacencyPrefix)
	if !ok {
		return "", 0, false
	}
	if typ, ok := strings.CutSuffix(rest, outSuffix); ok && typ != "" {
		return typ, Outgoing, true
	}
	if typ, ok := strings.CutSuffix(rest, inSuffix); ok && typ != "" {
		return typ, Incoming, true
	}
	return "", 0, false
}

func validateTypeName(name string) error {
	if name == "" || strings.IndexByte(name, 0x00) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidType, name)
	}
	return nil
}

// adjacency is the store type behind both directions of a relationship type.
type adjacency = kvstore.Store[NodeID, NodeSet]

// relType is one registered relationship type. out and in are always created
// and dropped together.
type relType struct {
	name         string
	maxEntries   int
	avgOutDegree int
	avgInDegree  int
	out          *adjacency
	in           *adjacency
}

func (rt *relType) side(dir Direction) *adjacency {
	if dir == Incoming {
		return rt.in
	}
	return rt.out
}

func (rt *relType) info() TypeInfo {
	return TypeInfo{
		Name:         rt.name,
		MaxEntries:   rt.maxEntries,
		AvgOutDegree: rt.avgOutDegree,
		AvgInDegree:  rt.avgInDegree,
		Stats:        TypeStats{Out: rt.out.Size(), In: rt.in.Size()},
	}
}

// registry maps relationship type names to their adjacency stores.
type registry struct {
	backend kvstore.Backend
	opts    Options
	log     *slog.Logger

	mu    sync.RWMutex
	types map[string]*relType

	// lazy deduplicates concurrent auto-registrations of the same type.
	lazy singleflight.Group
}

func newRegistry(backend kvstore.Backend, opts Options, log *slog.Logger) *registry {
	return &registry{
		backend: backend,
		opts:    opts,
		log:     log,
		types:   make(map[string]*relType),
	}
}

// sizing turns type hints into store sizing for one direction.
func (r *registry) sizing(maxEntries, avgDegree int) kvstore.Sizing {
	return kvstore.Sizing{
		MaxEntries:   maxEntries,
		AvgKeySize:   r.opts.AvgNodeIDSize,
		AvgValueSize: avgDegree*(r.opts.AvgNodeIDSize+1) + setOverhead,
	}
}

// degree recovers the degree hint encoded by sizing.
func degree(z kvstore.Sizing) int {
	if z.AvgKeySize <= 0 {
		return 0
	}
	return (z.AvgValueSize - setOverhead) / (z.AvgKeySize + 1)
}

// rehydrate loads relationship types created by an earlier process from the
// backend catalog.
func (r *registry) rehydrate() error {
	catalog, err := r.backend.Catalog()
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}

	found := make(map[string][2]*kvstore.StoreInfo)
	for i := range catalog {
		typ, dir, ok := parseAdjacencyStoreName(catalog[i].Name)
		if !ok {
			continue
		}
		sides := found[typ]
		sides[dir] = &catalog[i]
		found[typ] = sides
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for typ, sides := range found {
		out, in := sides[Outgoing], sides[Incoming]
		var known kvstore.Sizing
		switch {
		case out != nil && in != nil:
			known = out.Sizing
		case out != nil:
			known = out.Sizing
			r.log.Warn("relationship type is missing its incoming store, recreating it", "type", typ)
		default:
			known = in.Sizing
			r.log.Warn("relationship type is missing its outgoing store, recreating it", "type", typ)
		}

		avgOut, avgIn := r.opts.DefaultAvgOutDegree, r.opts.DefaultAvgInDegree
		if out != nil {
			avgOut = degree(out.Sizing)
		}
		if in != nil {
			avgIn = degree(in.Sizing)
		}
		rt, err := r.openLocked(typ, known.MaxEntries, avgOut, avgIn)
		if err != nil {
			return err
		}
		r.types[typ] = rt
		r.log.Debug("relationship type restored", "type", typ,
			"out_entries", rt.out.Size(), "in_entries", rt.in.Size())
	}
	return nil
}

// register creates a type explicitly, applying the duplicate policy.
func (r *registry) register(name string, maxEntries, avgOut, avgIn int) (*relType, error) {
	if err := validateTypeName(name); err != nil {
		return nil, err
	}
	if maxEntries < 0 || avgOut < 0 || avgIn < 0 {
		return nil, fmt.Errorf("relationship type %s: negative sizing hint", name)
	}
	if maxEntries == 0 {
		maxEntries = r.opts.DefaultMaxEntries
	}
	if avgOut == 0 {
		avgOut = r.opts.DefaultAvgOutDegree
	}
	if avgIn == 0 {
		avgIn = r.opts.DefaultAvgInDegree
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.types[name]; ok {
		if r.opts.DuplicateTypePolicy != ReplaceDuplicateTypes {
			return nil, fmt.Errorf("%w: %s", ErrTypeAlreadyExists, name)
		}
		if err := r.dropLocked(old); err != nil {
			return nil, err
		}
		r.log.Info("relationship type replaced, existing edges discarded", "type", name,
			"out_entries", old.out.Size(), "in_entries", old.in.Size())
	}

	rt, err := r.openLocked(name, maxEntries, avgOut, avgIn)
	if err != nil {
		return nil, err
	}
	r.types[name] = rt
	r.log.Debug("relationship type registered", "type", name,
		"max_entries", maxEntries, "avg_out_degree", avgOut, "avg_in_degree", avgIn)
	return rt, nil
}

// resolve returns the named type, auto-registering it when enabled.
func (r *registry) resolve(name string) (*relType, error) {
	if rt, ok := r.lookup(name); ok {
		return rt, nil
	}
	if err := validateTypeName(name); err != nil {
		return nil, err
	}
	if !r.opts.AutoRegisterTypes {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelationshipType, name)
	}

	v, err, _ := r.lazy.Do(name, func() (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if rt, ok := r.types[name]; ok {
			return rt, nil
		}
		rt, err := r.openLocked(name, r.opts.DefaultMaxEntries, r.opts.DefaultAvgOutDegree, r.opts.DefaultAvgInDegree)
		if err != nil {
			return nil, err
		}
		r.types[name] = rt
		r.log.Info("relationship type auto-registered", "type", name,
			"max_entries", rt.maxEntries)
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*relType), nil
}

// lookup returns a registered type without side effects.
func (r *registry) lookup(name string) (*relType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[name]
	return rt, ok
}

// require returns a registered type or ErrUnknownRelationshipType.
func (r *registry) require(name string) (*relType, error) {
	rt, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelationshipType, name)
	}
	return rt, nil
}

// all returns the registered types sorted by name.
func (r *registry) all() []*relType {
	r.mu.RLock()
	out := make([]*relType, 0, len(r.types))
	for _, rt := range r.types {
		out = append(out, rt)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.types {
		rt.out.Close()
		rt.in.Close()
	}
}

// openLocked creates or reopens both adjacency stores of a type. When the
// second store cannot be opened the first is dropped again so a type never
// exists with a single side.
func (r *registry) openLocked(name string, maxEntries, avgOut, avgIn int) (*relType, error) {
	storeOpts := kvstore.Options{LockTimeout: r.opts.LockTimeout}
	outName := adjacencyStoreName(name, Outgoing)
	inName := adjacencyStoreName(name, Incoming)

	out, err := kvstore.Open(r.backend, outName, r.sizing(maxEntries, avgOut),
		kvstore.StringCodec[NodeID]{}, nodeSetCodec{}, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("relationship type %s: %w", name, err)
	}
	in, err := kvstore.Open(r.backend, inName, r.sizing(maxEntries, avgIn),
		kvstore.StringCodec[NodeID]{}, nodeSetCodec{}, storeOpts)
	if err != nil {
		out.Close()
		if dropErr := r.backend.Drop(outName); dropErr != nil {
			err = errors.Join(err, dropErr)
		}
		return nil, fmt.Errorf("relationship type %s: %w", name, err)
	}

	return &relType{
		name:         name,
		maxEntries:   out.Capacity(),
		avgOutDegree: degree(out.Info().Sizing),
		avgInDegree:  degree(in.Info().Sizing),
		out:          out,
		in:           in,
	}, nil
}

// dropLocked discards both stores of a type. Sessions still holding the old
// stores fail with kvstore.ErrBackendClosed.
func (r *registry) dropLocked(rt *relType) error {
	rt.out.Close()
	rt.in.Close()
	err := errors.Join(
		r.backend.Drop(rt.out.Name()),
		r.backend.Drop(rt.in.Name()),
	)
	delete(r.types, rt.name)
	if err != nil {
		return fmt.Errorf("dropping relationship type %s: %w", rt.name, err)
	}
	return nil
}
