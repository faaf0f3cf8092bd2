package graph

import (
	"context"
	"fmt"

	"github.com/orneryd/linkdb/pkg/kvstore"
	"github.com/orneryd/linkdb/pkg/value"
)

// RegisterType creates the adjacency stores of a relationship type.
//
// maxEntries is the fixed capacity of each direction's store: the number of
// distinct nodes that may have an edge of this type in that direction.
// avgOutDegree and avgInDegree only pre-size values and are not enforced.
// Zero hints take the engine defaults.
//
// Registering a name twice fails with ErrTypeAlreadyExists unless the engine
// uses ReplaceDuplicateTypes, in which case all edges of the type are
// discarded.
func (e *Engine) RegisterType(name string, maxEntries, avgOutDegree, avgInDegree int) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	_, err := e.types.register(name, maxEntries, avgOutDegree, avgInDegree)
	return err
}

// TypeStats returns the entry counts of a type's outgoing and incoming
// stores: how many nodes have at least one edge of the type in each
// direction. It is not an edge count.
func (e *Engine) TypeStats(name string) (TypeStats, error) {
	if err := e.ensureOpen(); err != nil {
		return TypeStats{}, err
	}
	rt, err := e.types.require(name)
	if err != nil {
		return TypeStats{}, err
	}
	return TypeStats{Out: rt.out.Size(), In: rt.in.Size()}, nil
}

// Types returns the registered relationship type names in sorted order.
func (e *Engine) Types() []string {
	all := e.types.all()
	names := make([]string, len(all))
	for i, rt := range all {
		names[i] = rt.name
	}
	return names
}

// TypeInfo describes a registered type.
func (e *Engine) TypeInfo(name string) (TypeInfo, error) {
	if err := e.ensureOpen(); err != nil {
		return TypeInfo{}, err
	}
	rt, err := e.types.require(name)
	if err != nil {
		return TypeInfo{}, err
	}
	return rt.info(), nil
}

// AddRelationship creates the relationship typ from -> to.
//
// Adding an existing relationship does not duplicate it: both adjacency sets
// are left as they are and, when props is not null, its properties are
// overwritten. A null props writes no property record. When the edge cannot
// be linked, the property record is put back as it was.
//
// Self-loops fail with ErrInvalidEdge. An unregistered type fails with
// ErrUnknownRelationshipType unless AutoRegisterTypes is set. Store errors
// such as kvstore.ErrCapacityExceeded and kvstore.ErrLockTimeout are
// returned unchanged.
func (e *Engine) AddRelationship(ctx context.Context, typ string, from, to NodeID, props value.Value) (RelationshipID, error) {
	id := RelationshipID{Type: typ, From: from, To: to}
	if err := e.ensureOpen(); err != nil {
		return id, err
	}
	if from == "" || to == "" {
		return id, fmt.Errorf("%w: relationship endpoints are required", ErrInvalidID)
	}
	if from == to {
		return id, fmt.Errorf("%w: %s", ErrInvalidEdge, id)
	}
	rt, err := e.types.resolve(typ)
	if err != nil {
		return id, err
	}
	if e.opts.StrictNodes {
		if err := e.requireNodes(from, to); err != nil {
			return id, err
		}
	}

	var (
		wrote    bool
		previous value.Value
		hadPrev  bool
	)
	if !props.IsNull() {
		err := e.rels.Update(ctx, id, func(s *kvstore.Session[RelationshipID, value.Value]) error {
			if previous, hadPrev = s.Entry(); hadPrev {
				return s.Replace(props)
			}
			return s.Insert(props)
		})
		if err != nil {
			return id, e.observe(err)
		}
		wrote = true
	}

	created, err := e.linkEdge(ctx, rt, from, to)
	if err != nil {
		if wrote {
			e.restoreProperties(ctx, id, props, previous, hadPrev)
		}
		return id, e.observe(err)
	}
	if created {
		e.metrics.RelationshipsAdded.WithLabelValues(typ).Inc()
	}
	return id, nil
}

// restoreProperties undoes the property write of a failed AddRelationship.
// The record is left alone when a concurrent writer changed it since.
func (e *Engine) restoreProperties(ctx context.Context, id RelationshipID, written, previous value.Value, hadPrev bool) {
	err := e.rels.Update(context.WithoutCancel(ctx), id, func(s *kvstore.Session[RelationshipID, value.Value]) error {
		cur, ok := s.Entry()
		if !ok || !cur.Equal(written) {
			return nil
		}
		if hadPrev {
			return s.Replace(previous)
		}
		return s.Remove()
	})
	if err != nil {
		e.log.Warn("relationship properties not restored after failed add",
			"relationship", id.String(), "error", err)
	}
}

// RemoveRelationship deletes typ from -> to together with its properties and
// reports whether it existed. Removing a missing relationship is not an
// error.
//
// When the outgoing side holds the edge but the incoming side does not, an
// *InvariantViolationError is returned and nothing is modified.
func (e *Engine) RemoveRelationship(ctx context.Context, typ string, from, to NodeID) (bool, error) {
	if err := e.ensureOpen(); err != nil {
		return false, err
	}
	rt, err := e.types.require(typ)
	if err != nil {
		return false, err
	}
	existed, err := e.unlinkEdge(ctx, rt, from, to)
	if err != nil {
		return false, e.observe(err)
	}
	hadProps, err := e.rels.Remove(ctx, RelationshipID{Type: typ, From: from, To: to})
	if err != nil {
		return existed, e.observe(err)
	}
	if existed {
		e.metrics.RelationshipsRemoved.WithLabelValues(typ).Inc()
	}
	return existed || hadProps, nil
}

// GetRelationship returns the properties recorded for typ from -> to. A
// missing record is reported with ok == false; the edge itself may still
// exist without properties.
func (e *Engine) GetRelationship(typ string, from, to NodeID) (props value.Value, ok bool, err error) {
	if err := e.ensureOpen(); err != nil {
		return value.Null(), false, err
	}
	return e.rels.Get(RelationshipID{Type: typ, From: from, To: to})
}

// HasRelationship reports whether the edge typ from -> to exists.
func (e *Engine) HasRelationship(typ string, from, to NodeID) (bool, error) {
	set, err := e.neighbors(typ, from, Outgoing)
	if err != nil {
		return false, err
	}
	return set.Contains(to), nil
}

// OutgoingNeighbors returns a snapshot of the targets of node's typ edges.
// A node without such edges yields an empty set.
func (e *Engine) OutgoingNeighbors(typ string, node NodeID) (NodeSet, error) {
	return e.neighbors(typ, node, Outgoing)
}

// IncomingNeighbors returns a snapshot of the sources of typ edges pointing
// at node.
func (e *Engine) IncomingNeighbors(typ string, node NodeID) (NodeSet, error) {
	return e.neighbors(typ, node, Incoming)
}

// OutgoingNodes returns the targets of node's typ edges with their
// properties, ordered by id. A target whose node record is missing, such as
// an endpoint never added or one whose removal raced with the edge, is
// reported with Null properties.
func (e *Engine) OutgoingNodes(typ string, node NodeID) ([]NodeRecord, error) {
	return e.neighborNodes(typ, node, Outgoing)
}

// IncomingNodes returns the sources of typ edges pointing at node with their
// properties, ordered by id. Missing node records yield Null properties.
func (e *Engine) IncomingNodes(typ string, node NodeID) ([]NodeRecord, error) {
	return e.neighborNodes(typ, node, Incoming)
}

func (e *Engine) neighborNodes(typ string, node NodeID, dir Direction) ([]NodeRecord, error) {
	set, err := e.neighbors(typ, node, dir)
	if err != nil {
		return nil, err
	}
	out := make([]NodeRecord, 0, len(set))
	for _, id := range set.Sorted() {
		props, _, err := e.nodes.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, NodeRecord{ID: id, Props: props})
	}
	return out, nil
}

func (e *Engine) neighbors(typ string, node NodeID, dir Direction) (NodeSet, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}
	rt, err := e.types.require(typ)
	if err != nil {
		return nil, err
	}
	set, ok, err := rt.side(dir).Get(node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewNodeSet(), nil
	}
	return set, nil
}

func (e *Engine) requireNodes(ids ...NodeID) error {
	for _, id := range ids {
		ok, err := e.nodes.ContainsKey(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	return nil
}
