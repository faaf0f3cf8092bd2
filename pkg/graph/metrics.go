package graph

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one Engine.
//
// Engines opened against the same Registerer share collectors, so a host
// that closes and reopens an engine keeps counting into the same series.
type Metrics struct {
	NodesAdded           prometheus.Counter
	NodesRemoved         prometheus.Counter
	RelationshipsAdded   *prometheus.CounterVec
	RelationshipsRemoved *prometheus.CounterVec
	InvariantViolations  *prometheus.CounterVec
	LockTimeouts         prometheus.Counter
	CascadeDuration      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	var errs []error
	m := &Metrics{
		NodesAdded: register(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkdb",
			Name:      "nodes_added_total",
			Help:      "Nodes inserted into the node store.",
		})),
		NodesRemoved: register(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkdb",
			Name:      "nodes_removed_total",
			Help:      "Nodes removed, including their cascaded relationships.",
		})),
		RelationshipsAdded: register(reg, &errs, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkdb",
			Name:      "relationships_added_total",
			Help:      "Edges newly created, by relationship type. Idempotent re-adds are not counted.",
		}, []string{"type"})),
		RelationshipsRemoved: register(reg, &errs, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkdb",
			Name:      "relationships_removed_total",
			Help:      "Edges removed directly or by cascade, by relationship type.",
		}, []string{"type"})),
		InvariantViolations: register(reg, &errs, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkdb",
			Name:      "invariant_violations_total",
			Help:      "Detected out/in adjacency mismatches, by relationship type.",
		}, []string{"type"})),
		LockTimeouts: register(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkdb",
			Name:      "lock_timeouts_total",
			Help:      "Operations that gave up waiting for a key lock.",
		})),
		CascadeDuration: register(reg, &errs, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "linkdb",
			Name:      "cascade_duration_seconds",
			Help:      "Time spent removing a node and its relationships.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		})),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	return m, nil
}

// register is registerCollector keeping the concrete collector type.
func register[C prometheus.Collector](reg prometheus.Registerer, errs *[]error, c C) C {
	got, err := registerCollector(reg, c)
	if err != nil {
		*errs = append(*errs, err)
		return c
	}
	existing, ok := got.(C)
	if !ok {
		*errs = append(*errs, fmt.Errorf("collector %T already registered as %T", c, got))
		return c
	}
	return existing
}

// registerCollector registers c with reg. When an identical collector is
// already registered, that one is returned instead. A nil reg leaves c
// unregistered.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if reg == nil {
		return c, nil
	}
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector, nil
	}
	return c, err
}
