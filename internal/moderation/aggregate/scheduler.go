package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultSweepTimeout = time.Minute

// Scheduler runs Reconcile on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	aggregator *Aggregator
	cron       *cron.Cron
	logger     *slog.Logger
	timeout    time.Duration
}

// NewScheduler accepts standard five-field specs and descriptors such as "@every 5m".
func NewScheduler(aggregator *Aggregator, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		aggregator: aggregator,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger,
		timeout:    defaultSweepTimeout,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("counter reconciliation scheduled", "next_run", s.next())
}

// Stop prevents new sweeps and waits for a running one, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.aggregator.Reconcile(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled counter reconciliation skipped", "error", err)
		return
	}
	s.logger.InfoContext(ctx, "counter reconciliation completed",
		"drifted", report.Drifted,
		"kinds", len(report.Kinds),
	)
}
