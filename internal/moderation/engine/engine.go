// Package engine applies single subject transitions.
//
// Every transition is pending -> approved or pending -> rejected. The status
// update, transition record, counter delta, notification and outbox entry are
// written in one transaction guarded by status = pending, so concurrent
// deciders on the same subject produce exactly one committed transition.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"moderation/internal/moderation/aggregate"
	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/notify"
	"moderation/internal/moderation/ports"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/audit"
	"moderation/pkg/platform/sentinel"
)

const tracerName = "moderation/engine"

// Store is the persistence the engine needs.
type Store interface {
	ports.Transactor
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
}

// Policy holds the decision rules that vary by deployment.
type Policy struct {
	RequireRejectionReason bool
}

// Request asks for one subject to reach DesiredStatus. Kind is optional; when
// set, a subject of another kind is reported as not found.
type Request struct {
	SubjectID     string
	Kind          models.Kind
	DesiredStatus models.Status
	Reason        string
	ActorID       string
}

type Engine struct {
	store      Store
	gate       ports.AccessGate
	aggregator *aggregate.Aggregator
	dispatcher *notify.Dispatcher
	policy     Policy
	topic      string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	clock      func() time.Time
}

type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithOutboxTopic enables decision events; each commit enqueues one entry for topic.
func WithOutboxTopic(topic string) Option {
	return func(e *Engine) {
		e.topic = topic
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the source of decision timestamps (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func New(store Store, gate ports.AccessGate, aggregator *aggregate.Aggregator, dispatcher *notify.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		gate:       gate,
		aggregator: aggregator,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// ApplyTransition decides one subject. A subject that is already terminal
// yields OutcomeAlreadyFinalized with a nil error and no side effects.
func (e *Engine) ApplyTransition(ctx context.Context, req Request) (result *models.TransitionResult, err error) {
	start := time.Now()
	kind := req.Kind
	ctx, span := e.tracer.Start(ctx, "engine.ApplyTransition", trace.WithAttributes(
		attribute.String("subject.id", req.SubjectID),
		attribute.String("subject.kind", string(req.Kind)),
		attribute.String("desired_status", string(req.DesiredStatus)),
	))
	defer func() {
		outcome := outcomeLabel(result, err)
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, dErrors.MessageOf(err))
		}
		span.End()
		e.metrics.ObserveTransition(string(kind), string(req.DesiredStatus), outcome, start)
	}()

	subj, err := e.checkPreconditions(ctx, req)
	if err != nil {
		return nil, err
	}
	kind = subj.Kind

	reason := strings.TrimSpace(req.Reason)

	var committed *models.TransitionResult
	txErr := e.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		// Decision time is taken inside the transaction, once per attempt.
		now := e.clock()
		updated, err := tx.FinalizeIfPending(ctx, subj.ID, req.DesiredStatus, req.ActorID, now)
		if err != nil {
			return err
		}

		rec := &models.TransitionRecord{
			ID:          uuid.NewString(),
			SubjectID:   updated.ID,
			Kind:        updated.Kind,
			FromStatus:  models.StatusPending,
			ToStatus:    req.DesiredStatus,
			Reason:      reason,
			ActorID:     req.ActorID,
			CommittedAt: now,
		}
		if err := tx.AppendTransition(ctx, rec); err != nil {
			return err
		}
		if err := e.aggregator.Apply(ctx, tx, updated.Kind, rec.FromStatus, rec.ToStatus); err != nil {
			return err
		}
		n, err := e.dispatcher.Persist(ctx, tx, updated, rec)
		if err != nil {
			return err
		}
		if err := e.enqueueDecision(ctx, tx, updated, rec); err != nil {
			return err
		}

		committed = &models.TransitionResult{
			Outcome:      models.OutcomeCommitted,
			Subject:      updated,
			Record:       rec,
			Notification: n,
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, sentinel.ErrInvalidState) {
			return e.alreadyFinalized(ctx, subj.ID)
		}
		if errors.Is(txErr, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
		if _, ok := dErrors.CodeOf(txErr); ok {
			return nil, txErr
		}
		return nil, dErrors.Wrap(txErr, dErrors.CodeInternal, "failed to commit transition")
	}

	e.dispatcher.PushAsync(ctx, committed.Notification)

	audit.LogAudit(ctx, e.logger, "subject_decided",
		"subject_id", committed.Subject.ID,
		"kind", string(committed.Subject.Kind),
		"to_status", string(committed.Record.ToStatus),
		"actor_id", req.ActorID,
		"reason", reason,
		"transition_id", committed.Record.ID,
	)
	return committed, nil
}

// checkPreconditions runs the ordered checks that precede the guarded write.
func (e *Engine) checkPreconditions(ctx context.Context, req Request) (*models.Subject, error) {
	if !req.DesiredStatus.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvalidStateTransition, "desired status must be approved or rejected")
	}

	subj, err := e.store.GetSubject(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	if req.Kind != "" && subj.Kind != req.Kind {
		return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
	}

	allowed, err := e.gate.IsAuthorized(ctx, req.ActorID, subj.Kind.DecideAction())
	if err != nil {
		e.logger.ErrorContext(ctx, "access gate unavailable",
			"actor_id", req.ActorID,
			"action", subj.Kind.DecideAction(),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "authorization check failed")
	}
	if !allowed {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor may not decide "+subj.Kind.Noun()+" subjects")
	}

	if req.DesiredStatus == models.StatusRejected && e.policy.RequireRejectionReason && strings.TrimSpace(req.Reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required when rejecting")
	}
	return subj, nil
}

func (e *Engine) alreadyFinalized(ctx context.Context, id string) (*models.TransitionResult, error) {
	current, err := e.store.GetSubject(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload subject")
	}
	return &models.TransitionResult{Outcome: models.OutcomeAlreadyFinalized, Subject: current}, nil
}

func (e *Engine) enqueueDecision(ctx context.Context, w ports.OutboxWriter, subj *models.Subject, rec *models.TransitionRecord) error {
	if e.topic == "" {
		return nil
	}
	payload, err := json.Marshal(models.DecisionEvent{
		TransitionID: rec.ID,
		SubjectID:    subj.ID,
		Kind:         subj.Kind,
		OwnerID:      subj.OwnerID,
		FromStatus:   rec.FromStatus,
		ToStatus:     rec.ToStatus,
		Reason:       rec.Reason,
		ActorID:      rec.ActorID,
		CommittedAt:  rec.CommittedAt,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode decision event")
	}
	return w.EnqueueOutbox(ctx, &models.OutboxEntry{
		Topic:     e.topic,
		Key:       subj.ID,
		Payload:   payload,
		CreatedAt: rec.CommittedAt,
	})
}

func outcomeLabel(result *models.TransitionResult, err error) string {
	if err != nil {
		if code, ok := dErrors.CodeOf(err); ok {
			return string(code)
		}
		return string(dErrors.CodeInternal)
	}
	if result == nil {
		return string(dErrors.CodeInternal)
	}
	return string(result.Outcome)
}
