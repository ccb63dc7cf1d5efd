// Package aggregate maintains the per-kind dashboard counters.
//
// Deltas are applied as one arithmetic UPDATE inside the transition's own
// transaction. Reconcile recomputes the counters from the subject table and
// overwrites them; it is the backstop for any drift.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/requestcontext"
)

// Store is the persistence the aggregator needs outside a transition.
type Store interface {
	ports.Transactor
	ports.CounterReader
}

type Aggregator struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Aggregator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply moves one unit from the from bucket to the to bucket. Only legal
// workflow edges are accepted.
func (a *Aggregator) Apply(ctx context.Context, w ports.CounterWriter, kind models.Kind, from, to models.Status) error {
	if !from.CanTransitionTo(to) {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("counter delta %s->%s is not a workflow edge", from, to))
	}
	return w.ApplyCounterDelta(ctx, kind, from, to)
}

// Register counts a newly submitted pending subject.
func (a *Aggregator) Register(ctx context.Context, w ports.CounterWriter, kind models.Kind) error {
	return w.ApplyCounterDelta(ctx, kind, "", models.StatusPending)
}

// Counters returns the cached counters for every kind.
func (a *Aggregator) Counters(ctx context.Context) ([]models.Counters, error) {
	counters, err := a.store.ListCounters(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load counters")
	}
	return counters, nil
}

// Reconcile locks the counter rows, recounts subjects grouped by kind and
// status, and overwrites the counters with the fresh values.
func (a *Aggregator) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	report := &models.ReconcileReport{RanAt: requestcontext.Now(ctx)}

	err := a.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		before, err := tx.LockCounters(ctx)
		if err != nil {
			return err
		}
		fresh, err := tx.CountSubjects(ctx)
		if err != nil {
			return err
		}
		report.Kinds, report.Drifted = diff(before, fresh)
		if !report.Drifted {
			return nil
		}
		return tx.OverwriteCounters(ctx, fresh)
	})
	if err != nil {
		a.metrics.IncrementReconcile("error")
		a.logger.ErrorContext(ctx, "counter reconciliation failed", "error", err)
		if _, coded := dErrors.CodeOf(err); coded {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reconcile counters")
	}

	for _, k := range report.Kinds {
		a.metrics.SetDrift(string(k.Kind), drift(k.Before, k.After))
		if k.Drifted {
			a.logger.WarnContext(ctx, "counter drift corrected",
				"kind", k.Kind,
				"before_pending", k.Before.Pending,
				"before_approved", k.Before.Approved,
				"before_rejected", k.Before.Rejected,
				"after_pending", k.After.Pending,
				"after_approved", k.After.Approved,
				"after_rejected", k.After.Rejected,
			)
		}
	}
	if report.Drifted {
		a.metrics.IncrementReconcile("corrected")
	} else {
		a.metrics.IncrementReconcile("clean")
	}
	return report, nil
}

func diff(before, fresh []models.Counters) ([]models.KindDrift, bool) {
	prev := make(map[models.Kind]models.Counters, len(before))
	for _, c := range before {
		prev[c.Kind] = c
	}
	out := make([]models.KindDrift, 0, len(fresh))
	changed := false
	for _, c := range fresh {
		b, ok := prev[c.Kind]
		if !ok {
			b = models.Counters{Kind: c.Kind}
		}
		d := models.KindDrift{Kind: c.Kind, Before: b, After: c, Drifted: b != c}
		changed = changed || d.Drifted
		out = append(out, d)
	}
	return out, changed
}

func drift(before, after models.Counters) int64 {
	abs := func(v int64) int64 {
		if v < 0 {
			return -v
		}
		return v
	}
	return abs(before.Pending-after.Pending) + abs(before.Approved-after.Approved) + abs(before.Rejected-after.Rejected)
}
