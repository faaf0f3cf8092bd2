package graph

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidEdge             = errors.New("invalid edge: self-loops are not allowed")
	ErrUnknownRelationshipType = errors.New("unknown relationship type")
	ErrTypeAlreadyExists       = errors.New("relationship type already exists")
	ErrDuplicateNode           = errors.New("node already exists")
	ErrNodeNotFound            = errors.New("node not found")
	ErrInvalidID               = errors.New("invalid id")
	ErrInvalidType             = errors.New("invalid relationship type name")
	ErrInvariantViolation      = errors.New("bidirectional invariant violated")
	ErrEngineClosed            = errors.New("engine closed")
)

// InvariantViolationError reports an edge present on one side of a type's
// adjacency but missing on the other.
//
// It always indicates a bug or external tampering with the stores. Callers
// must not swallow it: the engine logs it at error level and counts it before
// returning.
//
// Example:
//
//	_, err := engine.RemoveRelationship(ctx, "FRIENDS", "a", "b")
//	var iv *graph.InvariantViolationError
//	if errors.As(err, &iv) {
//		log.Fatalf("graph corrupted: %v", iv)
//	}
type InvariantViolationError struct {
	Type string
	From NodeID
	To   NodeID

	// Missing is the side on which the edge was not found.
	Missing Direction
}

func (e *InvariantViolationError) Error() string {
	if e.Missing == Incoming {
		return fmt.Sprintf("%s: %s has %s in %q out-adjacency but %s is missing from %s's in-adjacency",
			ErrInvariantViolation, e.From, e.To, e.Type, e.From, e.To)
	}
	return fmt.Sprintf("%s: %s has %s in %q in-adjacency but %s is missing from %s's out-adjacency",
		ErrInvariantViolation, e.To, e.From, e.Type, e.To, e.From)
}

// Is matches ErrInvariantViolation.
func (e *InvariantViolationError) Is(target error) bool {
	return target == ErrInvariantViolation
}
