package graph

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/orneryd/linkdb/pkg/kvstore"
	"github.com/orneryd/linkdb/pkg/value"
)

// AddNode inserts a node and returns its identity.
//
// With IDCallerSupplied, id is required and an existing id fails with
// ErrDuplicateNode. With the generated strategies, id must be empty and the
// engine picks one.
//
// Example:
//
//	id, err := engine.AddNode(ctx, "", value.Map(map[string]value.Value{
//		"name": value.String("Alice"),
//	}))
func (e *Engine) AddNode(ctx context.Context, id NodeID, props value.Value) (NodeID, error) {
	if err := e.ensureOpen(); err != nil {
		return "", err
	}
	id, err := e.assignID(id)
	if err != nil {
		return "", err
	}

	err = e.nodes.Update(ctx, id, func(s *kvstore.Session[NodeID, value.Value]) error {
		if _, ok := s.Entry(); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
		}
		return s.Insert(props)
	})
	if err != nil {
		return "", e.observe(err)
	}
	e.metrics.NodesAdded.Inc()
	return id, nil
}

// UpdateNode overwrites the properties of an existing node. There is no
// partial update; props replaces the previous payload entirely.
func (e *Engine) UpdateNode(ctx context.Context, id NodeID, props value.Value) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidID)
	}
	err := e.nodes.Update(ctx, id, func(s *kvstore.Session[NodeID, value.Value]) error {
		if _, ok := s.Entry(); !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		return s.Replace(props)
	})
	return e.observe(err)
}

// GetNode returns the properties of a node, or ErrNodeNotFound.
func (e *Engine) GetNode(id NodeID) (value.Value, error) {
	if err := e.ensureOpen(); err != nil {
		return value.Null(), err
	}
	props, ok, err := e.nodes.Get(id)
	if err != nil {
		return value.Null(), err
	}
	if !ok {
		return value.Null(), fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return props, nil
}

// HasNode reports whether the node store holds id.
func (e *Engine) HasNode(id NodeID) (bool, error) {
	if err := e.ensureOpen(); err != nil {
		return false, err
	}
	return e.nodes.ContainsKey(id)
}

// NodeCount returns the number of nodes.
func (e *Engine) NodeCount() int { return e.nodes.Size() }

// RelationshipPropertyCount returns the number of relationships that carry a
// property record. Relationships without properties are not counted.
func (e *Engine) RelationshipPropertyCount() int { return e.rels.Size() }

// assignID validates a caller id or generates one, per IDStrategy.
func (e *Engine) assignID(id NodeID) (NodeID, error) {
	switch e.opts.IDStrategy {
	case IDSequential, IDRandomUUID:
		if id != "" {
			return "", fmt.Errorf("%w: ids are generated (%s strategy), got %q", ErrInvalidID, e.opts.IDStrategy, id)
		}
		return e.generateID()
	default:
		if id == "" {
			return "", fmt.Errorf("%w: node id is required", ErrInvalidID)
		}
		return id, nil
	}
}

func (e *Engine) generateID() (NodeID, error) {
	if e.opts.IDStrategy == IDRandomUUID {
		return NodeID(uuid.NewString()), nil
	}
	n, err := e.ids.Next()
	if err != nil {
		return "", fmt.Errorf("generating node id: %w", err)
	}
	return NodeID(strconv.FormatUint(n+1, 10)), nil
}
