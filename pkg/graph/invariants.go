package graph

import (
	"context"
	"fmt"
)

// CheckInvariants scans every relationship type and verifies that each edge
// is recorded on both sides. It returns the first *InvariantViolationError
// found, or nil.
//
// The scan takes no locks. Run it while no mutations are in flight, otherwise
// an edge written between the two reads can be reported.
func (e *Engine) CheckInvariants(ctx context.Context) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	for _, rt := range e.types.all() {
		if err := e.checkType(ctx, rt); err != nil {
			return e.observe(err)
		}
	}
	return nil
}

func (e *Engine) checkType(ctx context.Context, rt *relType) error {
	var found error

	scan := func(dir Direction) error {
		this, other := rt.side(dir), rt.side(1-dir)
		err := this.Range(func(node NodeID, set NodeSet) bool {
			if err := ctx.Err(); err != nil {
				found = err
				return false
			}
			for peer := range set {
				back, _, err := other.Get(peer)
				if err != nil {
					found = err
					return false
				}
				if back.Contains(node) {
					continue
				}
				iv := &InvariantViolationError{Type: rt.name, From: node, To: peer, Missing: Incoming}
				if dir == Incoming {
					iv = &InvariantViolationError{Type: rt.name, From: peer, To: node, Missing: Outgoing}
				}
				found = iv
				return false
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("scanning %s: %w", this.Name(), err)
		}
		return found
	}

	if err := scan(Outgoing); err != nil {
		return err
	}
	return scan(Incoming)
}
