// Package service is the entry point transports call. It routes decisions to
// the engine or the bulk coordinator, creates subjects on behalf of the owning
// subsystems, and serves the dashboard and notification queries.
package service

import (
	"context"
	"log/slog"

	"moderation/internal/moderation/aggregate"
	"moderation/internal/moderation/bulk"
	"moderation/internal/moderation/engine"
	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/notify"
	"moderation/internal/moderation/ports"
	dErrors "moderation/pkg/domain-errors"
	pstrings "moderation/pkg/platform/strings"
)

// Access actions checked outside the per-kind decide actions.
const (
	ActionViewQueue = "view:queue"
	ActionReconcile = "reconcile:counters"
)

type Service struct {
	store       ports.Store
	gate        ports.AccessGate
	engine      *engine.Engine
	coordinator *bulk.Coordinator
	aggregator  *aggregate.Aggregator
	dispatcher  *notify.Dispatcher
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(
	store ports.Store,
	gate ports.AccessGate,
	eng *engine.Engine,
	coordinator *bulk.Coordinator,
	aggregator *aggregate.Aggregator,
	dispatcher *notify.Dispatcher,
	opts ...Option,
) *Service {
	s := &Service{
		store:       store,
		gate:        gate,
		engine:      eng,
		coordinator: coordinator,
		aggregator:  aggregator,
		dispatcher:  dispatcher,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Command is an administrator decision on one or more subjects of one kind.
type Command struct {
	Kind          models.Kind
	SubjectIDs    []string
	DesiredStatus models.Status
	Reason        string
	ActorID       string
}

// Decision carries exactly one of Single or Bulk.
type Decision struct {
	Single *models.TransitionResult
	Bulk   *models.BulkResult
}

// Decide sends a single id straight to the engine and several ids through
// the bulk coordinator. Every subject must be of cmd.Kind.
func (s *Service) Decide(ctx context.Context, cmd Command) (*Decision, error) {
	if cmd.ActorID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor required")
	}
	if !cmd.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown subject kind: "+string(cmd.Kind))
	}

	ids := pstrings.DedupeAndTrim(cmd.SubjectIDs)
	if len(ids) == 1 {
		res, err := s.engine.ApplyTransition(ctx, engine.Request{
			SubjectID:     ids[0],
			Kind:          cmd.Kind,
			DesiredStatus: cmd.DesiredStatus,
			Reason:        cmd.Reason,
			ActorID:       cmd.ActorID,
		})
		if err != nil {
			return nil, err
		}
		return &Decision{Single: res}, nil
	}

	res, err := s.coordinator.ExecuteBulk(ctx, bulk.Request{
		SubjectIDs:    ids,
		Kind:          cmd.Kind,
		DesiredStatus: cmd.DesiredStatus,
		Reason:        cmd.Reason,
		ActorID:       cmd.ActorID,
	})
	if err != nil {
		return nil, err
	}
	return &Decision{Bulk: res}, nil
}

func (s *Service) authorize(ctx context.Context, actorID, action string) error {
	if actorID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "actor required")
	}
	allowed, err := s.gate.IsAuthorized(ctx, actorID, action)
	if err != nil {
		s.logger.ErrorContext(ctx, "access gate unavailable", "actor_id", actorID, "action", action, "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "authorization check failed")
	}
	if !allowed {
		return dErrors.New(dErrors.CodeUnauthorized, "actor may not "+action)
	}
	return nil
}
