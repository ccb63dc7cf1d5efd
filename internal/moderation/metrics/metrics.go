package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the moderation module.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	TransitionDuration prometheus.Histogram
	BulkItems          *prometheus.CounterVec
	BulkDuration       prometheus.Histogram
	Submissions        *prometheus.CounterVec
	PushAttempts       *prometheus.CounterVec
	ReconcileRuns      *prometheus.CounterVec
	CounterDrift       *prometheus.GaugeVec
	OutboxPublished    prometheus.Counter
	OutboxFailures     prometheus.Counter
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// New registers the module metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the module metrics on reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_transitions_total",
			Help: "Transition attempts by kind, desired status and outcome",
		}, []string{"kind", "status", "outcome"}),
		TransitionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_transition_duration_seconds",
			Help:    "Duration of ApplyTransition including the commit",
			Buckets: durationBuckets,
		}),
		BulkItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_bulk_items_total",
			Help: "Bulk decision items by result (succeeded or error kind)",
		}, []string{"result"}),
		BulkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_bulk_duration_seconds",
			Help:    "Duration of ExecuteBulk",
			Buckets: durationBuckets,
		}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_submissions_total",
			Help: "Subjects created by kind and origin (new or resubmission)",
		}, []string{"kind", "origin"}),
		PushAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_push_attempts_total",
			Help: "Live push attempts by result (delivered, unreachable, failed, skipped)",
		}, []string{"result"}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_reconcile_runs_total",
			Help: "Counter reconciliation passes by result",
		}, []string{"result"}),
		CounterDrift: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moderation_counter_drift",
			Help: "Absolute counter drift corrected by the last reconciliation, per kind",
		}, []string{"kind"}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "moderation_outbox_published_total",
			Help: "Decision events relayed to the event bus",
		}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "moderation_outbox_failures_total",
			Help: "Failed outbox relay batches",
		}),
	}
}

// ObserveTransition records one ApplyTransition call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTransition(kind, status, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, status, outcome).Inc()
	m.TransitionDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveBulk(start time.Time) {
	if m == nil {
		return
	}
	m.BulkDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementBulkItem(result string) {
	if m == nil {
		return
	}
	m.BulkItems.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementSubmission(kind, origin string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(kind, origin).Inc()
}

func (m *Metrics) IncrementPush(result string) {
	if m == nil {
		return
	}
	m.PushAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementReconcile(result string) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) SetDrift(kind string, drift int64) {
	if m == nil {
		return
	}
	m.CounterDrift.WithLabelValues(kind).Set(float64(drift))
}

func (m *Metrics) AddOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) IncrementOutboxFailure() {
	if m == nil {
		return
	}
	m.OutboxFailures.Inc()
}
