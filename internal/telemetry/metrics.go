// Package telemetry exposes Prometheus metrics for the planning engines.
//
// All methods are safe on a nil *Metrics so callers never need to guard.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "planengine"

// Metrics holds every collector the engines report to.
type Metrics struct {
	DependencyRejections *prometheus.CounterVec
	RollupRecalculations prometheus.Counter
	VisibilityFlips      prometheus.Counter
	VisibilitySync       prometheus.Histogram
	EVMReports           *prometheus.CounterVec
	EventsPublished      *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DependencyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "dependency_rejections_total",
			Help:      "Dependency edges rejected before persistence, by reason.",
		}, []string{"reason"}),
		RollupRecalculations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "recalculations_total",
			Help:      "Component aggregates recalculated from children.",
		}),
		VisibilityFlips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "visibility",
			Name:      "flips_total",
			Help:      "Tasks whose hidden flag changed during a sync pass.",
		}),
		VisibilitySync: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "visibility",
			Name:      "sync_seconds",
			Help:      "Duration of per-project visibility sync passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		EVMReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "reports_total",
			Help:      "Variance reports computed, by overall health.",
		}, []string{"health"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events published, by type.",
		}, []string{"type"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Tag cache lookups, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DependencyRejections,
			m.RollupRecalculations,
			m.VisibilityFlips,
			m.VisibilitySync,
			m.EVMReports,
			m.EventsPublished,
			m.CacheLookups,
		)
	}
	return m
}

// DependencyRejected counts a rejected edge.
func (m *Metrics) DependencyRejected(reason string) {
	if m == nil {
		return
	}
	m.DependencyRejections.WithLabelValues(reason).Inc()
}

// Recalculated counts one component aggregate recalculation.
func (m *Metrics) Recalculated() {
	if m == nil {
		return
	}
	m.RollupRecalculations.Inc()
}

// VisibilityFlipped adds n flipped tasks.
func (m *Metrics) VisibilityFlipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.VisibilityFlips.Add(float64(n))
}

// ObserveSync records the duration of one sync pass.
func (m *Metrics) ObserveSync(d time.Duration) {
	if m == nil {
		return
	}
	m.VisibilitySync.Observe(d.Seconds())
}

// EVMReported counts a computed variance report.
func (m *Metrics) EVMReported(health string) {
	if m == nil {
		return
	}
	m.EVMReports.WithLabelValues(health).Inc()
}

// EventPublished counts one published event.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
