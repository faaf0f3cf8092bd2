package graph

import (
	"context"
	"errors"

	"github.com/orneryd/linkdb/pkg/kvstore"
)

// ============================================================================
// Edge protocol
// ============================================================================
//
// Every edge lives twice: to is a member of out[from] and from is a member of
// in[to]. Both halves are written while holding the locks of both keys, taken
// through kvstore.UpdatePair in the backend's global lock order. The order
// never depends on which node is the source, so a mutation of (a,b) and one
// of (b,a) cannot wait on each other in a cycle.

type adjacencySession = kvstore.Session[NodeID, NodeSet]

// insertMember adds id to the session's set and reports whether it grew. No
// write is issued when id is already a member.
func insertMember(s *adjacencySession, id NodeID) (bool, error) {
	set, ok := s.Entry()
	if !ok {
		return true, s.Insert(NewNodeSet(id))
	}
	if !set.Add(id) {
		return false, nil
	}
	return true, s.Replace(set)
}

// removeMember deletes id from the session's set and reports whether it was
// a member. An emptied set deletes the entry.
func removeMember(s *adjacencySession, id NodeID) (bool, error) {
	set, ok := s.Entry()
	if !ok || !set.Contains(id) {
		return false, nil
	}
	set.Remove(id)
	return true, storeSet(s, set)
}

// storeSet writes set back, deleting the entry instead of keeping it empty.
func storeSet(s *adjacencySession, set NodeSet) error {
	if set.Len() == 0 {
		return s.Remove()
	}
	return s.Replace(set)
}

// linkEdge adds from->to to both adjacency sides of rt and reports whether
// the edge is new. Re-adding an existing edge writes nothing.
func (e *Engine) linkEdge(ctx context.Context, rt *relType, from, to NodeID) (bool, error) {
	var created bool
	err := kvstore.UpdatePair(ctx, rt.out, from, rt.in, to, func(out, in *adjacencySession) error {
		grewOut, err := insertMember(out, to)
		if err != nil {
			return err
		}
		grewIn, err := insertMember(in, from)
		if err != nil {
			if grewOut {
				// Undo the first half so a full in-store leaves no
				// one-sided edge behind.
				if _, undoErr := removeMember(out, to); undoErr != nil {
					return errors.Join(err, undoErr)
				}
			}
			return err
		}
		created = grewOut || grewIn
		return nil
	})
	return created, err
}

// unlinkEdge removes from->to from both adjacency sides of rt.
//
// It reports false without writing anything when to is not in out[from].
// When to is in out[from] but from is missing from in[to] the invariant is
// already broken; nothing is repaired and an *InvariantViolationError is
// returned.
func (e *Engine) unlinkEdge(ctx context.Context, rt *relType, from, to NodeID) (bool, error) {
	var existed bool
	err := kvstore.UpdatePair(ctx, rt.out, from, rt.in, to, func(out, in *adjacencySession) error {
		outSet, ok := out.Entry()
		if !ok || !outSet.Contains(to) {
			return nil
		}
		inSet, ok := in.Entry()
		if !ok || !inSet.Contains(from) {
			return &InvariantViolationError{Type: rt.name, From: from, To: to, Missing: Incoming}
		}

		outSet.Remove(to)
		inSet.Remove(from)
		if err := storeSet(out, outSet); err != nil {
			return err
		}
		if err := storeSet(in, inSet); err != nil {
			return err
		}
		existed = true
		return nil
	})
	return existed, err
}

// detachEdge removes whatever halves of from->to are present. Cascading
// deletion uses it: a half that is already gone counts as done.
func (e *Engine) detachEdge(ctx context.Context, rt *relType, from, to NodeID) (bool, error) {
	var removed bool
	err := kvstore.UpdatePair(ctx, rt.out, from, rt.in, to, func(out, in *adjacencySession) error {
		fromOut, err := removeMember(out, to)
		if err != nil {
			return err
		}
		fromIn, err := removeMember(in, from)
		if err != nil {
			return err
		}
		removed = fromOut || fromIn
		return nil
	})
	return removed, err
}

// removeEdge tidies a single side: it deletes member from store[key] under
// that key's lock only.
func (e *Engine) removeEdge(ctx context.Context, store *adjacency, key, member NodeID) (bool, error) {
	var removed bool
	err := store.Update(ctx, key, func(s *adjacencySession) error {
		var err error
		removed, err = removeMember(s, member)
		return err
	})
	return removed, err
}

// takeEntry deletes store[key] and returns the set it held.
func (e *Engine) takeEntry(ctx context.Context, store *adjacency, key NodeID) (NodeSet, error) {
	var taken NodeSet
	err := store.Update(ctx, key, func(s *adjacencySession) error {
		set, ok := s.Entry()
		if !ok {
			return nil
		}
		taken = set
		return s.Remove()
	})
	return taken, err
}
