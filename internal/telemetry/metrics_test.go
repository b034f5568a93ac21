package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DependencyRejected("cycle")
	m.DependencyRejected("cycle")
	m.DependencyRejected("missing_target")
	m.Recalculated()
	m.VisibilityFlipped(3)
	m.VisibilityFlipped(0)
	m.EVMReported("Good")
	m.EventPublished("task.created")
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.ObserveSync(10 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DependencyRejections.WithLabelValues("cycle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DependencyRejections.WithLabelValues("missing_target")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollupRecalculations))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.VisibilityFlips))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EVMReports.WithLabelValues("Good")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("task.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DependencyRejected("cycle")
		m.Recalculated()
		m.VisibilityFlipped(1)
		m.ObserveSync(time.Second)
		m.EVMReported("Poor")
		m.EventPublished("x")
		m.CacheLookup(true)
	})
}
