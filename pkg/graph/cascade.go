package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// RemoveNode deletes a node and every relationship of every registered type
// that touches it, and reports whether the node record existed.
//
// The node record goes first, then each type is cleaned up, CascadeWorkers
// types at a time. For every neighbor both halves of the edge and its
// property record are removed. Halves that are already gone count as done,
// so the cascade always visits every type; failures are collected and
// returned together once it finishes.
//
// Cost is O(types x degree): there is no node-to-type index.
func (e *Engine) RemoveNode(ctx context.Context, id NodeID) (bool, error) {
	if err := e.ensureOpen(); err != nil {
		return false, err
	}
	if id == "" {
		return false, fmt.Errorf("%w: empty node id", ErrInvalidID)
	}
	start := time.Now()
	defer func() { e.metrics.CascadeDuration.Observe(time.Since(start).Seconds()) }()

	existed, err := e.nodes.Remove(ctx, id)
	if err != nil {
		return false, e.observe(err)
	}

	types := e.types.all()
	errs := make([]error, len(types))
	var g errgroup.Group
	g.SetLimit(e.opts.CascadeWorkers)
	for i, rt := range types {
		i, rt := i, rt
		g.Go(func() error {
			errs[i] = e.cascadeType(ctx, rt, id)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		e.log.Warn("cascading node removal incomplete", "node", string(id), "error", err)
		return existed, e.observe(err)
	}
	if existed {
		e.metrics.NodesRemoved.Inc()
	}
	return existed, nil
}

// cascadeType removes every rt edge touching id.
func (e *Engine) cascadeType(ctx context.Context, rt *relType, id NodeID) error {
	var errs []error

	targets, _, err := rt.out.Get(id)
	if err != nil {
		return fmt.Errorf("relationship type %s: %w", rt.name, err)
	}
	for n := range targets {
		errs = append(errs, e.detach(ctx, rt, id, n))
	}

	sources, _, err := rt.in.Get(id)
	if err != nil {
		return fmt.Errorf("relationship type %s: %w", rt.name, err)
	}
	for n := range sources {
		errs = append(errs, e.detach(ctx, rt, n, id))
	}

	// Sweep id's own entries. They are normally empty by now; anything left
	// was linked after the snapshots above and is tidied one side at a time.
	late, err := e.takeEntry(ctx, rt.out, id)
	errs = append(errs, err)
	for n := range late {
		_, err := e.removeEdge(ctx, rt.in, n, id)
		errs = append(errs, err, e.dropProperties(ctx, rt, id, n))
	}
	late, err = e.takeEntry(ctx, rt.in, id)
	errs = append(errs, err)
	for n := range late {
		_, err := e.removeEdge(ctx, rt.out, n, id)
		errs = append(errs, err, e.dropProperties(ctx, rt, n, id))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("relationship type %s: %w", rt.name, err)
	}
	return nil
}

// detach removes both halves and the properties of rt from -> to.
func (e *Engine) detach(ctx context.Context, rt *relType, from, to NodeID) error {
	removed, err := e.detachEdge(ctx, rt, from, to)
	if err != nil {
		return err
	}
	if removed {
		e.metrics.RelationshipsRemoved.WithLabelValues(rt.name).Inc()
	}
	return e.dropProperties(ctx, rt, from, to)
}

func (e *Engine) dropProperties(ctx context.Context, rt *relType, from, to NodeID) error {
	_, err := e.rels.Remove(ctx, RelationshipID{Type: rt.name, From: from, To: to})
	return err
}
