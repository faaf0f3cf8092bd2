package graph

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IDStrategy selects how node identities are produced.
type IDStrategy string

const (
	// IDCallerSupplied requires every AddNode call to pass an id.
	IDCallerSupplied IDStrategy = "caller"
	// IDSequential generates decimal ids from a monotonic counter that is
	// never reused. On a persistent backend the counter survives restarts.
	IDSequential IDStrategy = "sequential"
	// IDRandomUUID generates random version 4 UUIDs.
	IDRandomUUID IDStrategy = "uuid"
)

// DuplicateTypePolicy decides what RegisterType does with a name that is
// already registered.
type DuplicateTypePolicy string

const (
	// RejectDuplicateTypes fails with ErrTypeAlreadyExists.
	RejectDuplicateTypes DuplicateTypePolicy = "reject"
	// ReplaceDuplicateTypes drops the existing adjacency stores, discarding
	// their edges, and creates fresh ones with the new sizing.
	ReplaceDuplicateTypes DuplicateTypePolicy = "replace"
)

// Options configures an Engine.
type Options struct {
	// IDStrategy selects node identity generation. Default: IDCallerSupplied.
	IDStrategy IDStrategy

	// AutoRegisterTypes makes AddRelationship register unknown types with
	// the default hints instead of failing with ErrUnknownRelationshipType.
	AutoRegisterTypes bool

	// DuplicateTypePolicy applies to explicit RegisterType calls.
	// Default: RejectDuplicateTypes.
	DuplicateTypePolicy DuplicateTypePolicy

	// Default hints used by auto-registration.
	DefaultMaxEntries   int
	DefaultAvgOutDegree int
	DefaultAvgInDegree  int

	// NodeCapacity and RelationshipCapacity size the node and relationship
	// property stores.
	NodeCapacity         int
	RelationshipCapacity int

	// AvgNodeIDSize is the expected length of a node id in bytes, used to
	// turn degree hints into value size hints.
	AvgNodeIDSize int

	// StrictNodes makes AddRelationship fail with ErrNodeNotFound unless
	// both endpoints exist in the node store.
	StrictNodes bool

	// CascadeWorkers bounds how many relationship types RemoveNode cleans
	// up in parallel.
	CascadeWorkers int

	// LockTimeout bounds every per-key lock wait. 0 waits until the
	// caller's context is done.
	LockTimeout time.Duration

	// Registerer receives the engine's Prometheus collectors. nil keeps
	// the collectors unregistered. Collectors already registered by an
	// earlier engine are reused.
	Registerer prometheus.Registerer
}

// DefaultOptions returns the recommended configuration: caller-supplied ids,
// explicit type registration and rejection of duplicate registrations.
func DefaultOptions() Options {
	return Options{
		IDStrategy:           IDCallerSupplied,
		DuplicateTypePolicy:  RejectDuplicateTypes,
		DefaultMaxEntries:    10_000,
		DefaultAvgOutDegree:  16,
		DefaultAvgInDegree:   16,
		NodeCapacity:         100_000,
		RelationshipCapacity: 100_000,
		AvgNodeIDSize:        16,
		CascadeWorkers:       4,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IDStrategy == "" {
		o.IDStrategy = d.IDStrategy
	}
	if o.DuplicateTypePolicy == "" {
		o.DuplicateTypePolicy = d.DuplicateTypePolicy
	}
	if o.DefaultMaxEntries <= 0 {
		o.DefaultMaxEntries = d.DefaultMaxEntries
	}
	if o.DefaultAvgOutDegree <= 0 {
		o.DefaultAvgOutDegree = d.DefaultAvgOutDegree
	}
	if o.DefaultAvgInDegree <= 0 {
		o.DefaultAvgInDegree = d.DefaultAvgInDegree
	}
	if o.NodeCapacity <= 0 {
		o.NodeCapacity = d.NodeCapacity
	}
	if o.RelationshipCapacity <= 0 {
		o.RelationshipCapacity = d.RelationshipCapacity
	}
	if o.AvgNodeIDSize <= 0 {
		o.AvgNodeIDSize = d.AvgNodeIDSize
	}
	if o.CascadeWorkers <= 0 {
		o.CascadeWorkers = d.CascadeWorkers
	}
	return o
}

func (o Options) validate() error {
	switch o.IDStrategy {
	case IDCallerSupplied, IDSequential, IDRandomUUID:
	default:
		return fmt.Errorf("unknown id strategy %q", o.IDStrategy)
	}
	switch o.DuplicateTypePolicy {
	case RejectDuplicateTypes, ReplaceDuplicateTypes:
	default:
		return fmt.Errorf("unknown duplicate type policy %q", o.DuplicateTypePolicy)
	}
	if o.LockTimeout < 0 {
		return fmt.Errorf("negative lock timeout %s", o.LockTimeout)
	}
	return nil
}
