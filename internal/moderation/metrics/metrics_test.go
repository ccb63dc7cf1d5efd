package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTransition(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveTransition("vehicle_listing", "rejected", "committed", time.Now())
	m.ObserveTransition("vehicle_listing", "approved", "already_finalized", time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("vehicle_listing", "rejected", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("vehicle_listing", "approved", "already_finalized")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("k", "s", "o", time.Now())
		m.IncrementPush("delivered")
		m.SetDrift("k", 3)
		m.AddOutboxPublished(2)
	})
}

func TestDriftGauge(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.SetDrift("booking_request", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CounterDrift.WithLabelValues("booking_request")))
}
