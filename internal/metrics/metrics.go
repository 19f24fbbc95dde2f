// Package metrics exposes Prometheus counters for the record engine. All
// series are labeled by table only, so cardinality is bounded by the number
// of declared entity types.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup outcomes.
const (
	LookupHit      = "hit"
	LookupMiss     = "miss"
	LookupCacheHit = "cache_hit"
)

// Metrics groups the engine counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Lookups       *prometheus.CounterVec
	Ambiguous     *prometheus.CounterVec
	Supersessions *prometheus.CounterVec
	Stale         *prometheus.CounterVec
	Demotions     *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_aggregation_lookups_total",
			Help: "Aggregation lookups by outcome (hit, miss, cache_hit)",
		}, []string{"table", "result"}),
		Ambiguous: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_ambiguous_lookups_total",
			Help: "Aggregation lookups that matched more than one row",
		}, []string{"table"}),
		Supersessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_supersessions_total",
			Help: "Tracked rows superseded by a new current row",
		}, []string{"table"}),
		Stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_stale_objects_total",
			Help: "Saves rejected because the row was changed by another writer",
		}, []string{"table"}),
		Demotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_current_pointer_demotions_total",
			Help: "Children demoted when a current pointer was reassigned",
		}, []string{"table"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Lookups, m.Ambiguous, m.Supersessions, m.Stale, m.Demotions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Lookup(table, result string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(table, result).Inc()
}

func (m *Metrics) AmbiguousLookup(table string) {
	if m == nil {
		return
	}
	m.Ambiguous.WithLabelValues(table).Inc()
}

func (m *Metrics) Superseded(table string) {
	if m == nil {
		return
	}
	m.Supersessions.WithLabelValues(table).Inc()
}

func (m *Metrics) StaleObject(table string) {
	if m == nil {
		return
	}
	m.Stale.WithLabelValues(table).Inc()
}

func (m *Metrics) Demoted(table string) {
	if m == nil {
		return
	}
	m.Demotions.WithLabelValues(table).Inc()
}
