// Package bulk fans a multi-subject decision out to the transition engine
// and reports every requested id exactly once.
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"moderation/internal/moderation/engine"
	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/audit"
	pstrings "moderation/pkg/platform/strings"
)

const (
	defaultConcurrency = 8
	defaultMaxSize     = 500
)

// Applier performs one isolated transition.
type Applier interface {
	ApplyTransition(ctx context.Context, req engine.Request) (*models.TransitionResult, error)
}

// Request is one bulk command. SubjectIDs are trimmed and de-duplicated.
type Request struct {
	SubjectIDs    []string
	Kind          models.Kind
	DesiredStatus models.Status
	Reason        string
	ActorID       string
}

type Coordinator struct {
	engine      Applier
	concurrency int
	maxSize     int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*Coordinator)

// WithConcurrency bounds how many transitions run at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxSize bounds how many distinct ids one command may carry.
func WithMaxSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func New(applier Applier, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:      applier,
		concurrency: defaultConcurrency,
		maxSize:     defaultMaxSize,
		logger:      slog.Default(),
		tracer:      otel.Tracer("moderation/bulk"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteBulk applies req to every id independently. A failure on one id is
// reported for that id only; the returned error is reserved for commands that
// were not attempted at all.
func (c *Coordinator) ExecuteBulk(ctx context.Context, req Request) (*models.BulkResult, error) {
	start := time.Now()
	defer c.metrics.ObserveBulk(start)

	ids, duplicates := pstrings.DedupeAndTrimCount(req.SubjectIDs)
	if len(ids) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one subject id is required")
	}
	if len(ids) > c.maxSize {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d subject ids per command", c.maxSize))
	}
	if !req.DesiredStatus.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvalidStateTransition, "desired status must be approved or rejected")
	}

	opID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "bulk.ExecuteBulk", trace.WithAttributes(
		attribute.String("operation.id", opID),
		attribute.Int("items", len(ids)),
		attribute.String("desired_status", string(req.DesiredStatus)),
	))
	defer span.End()

	// Each goroutine owns one slot; order is restored from input position.
	failures := make([]*models.BulkFailure, len(ids))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			failures[i] = c.applyOne(ctx, id, req)
			return nil
		})
	}
	_ = g.Wait()

	result := &models.BulkResult{
		OperationID:   opID,
		DesiredStatus: req.DesiredStatus,
		Succeeded:     make([]string, 0, len(ids)),
		Failed:        make([]models.BulkFailure, 0),
	}
	for i, id := range ids {
		if failures[i] == nil {
			result.Succeeded = append(result.Succeeded, id)
			c.metrics.IncrementBulkItem("succeeded")
			continue
		}
		result.Failed = append(result.Failed, *failures[i])
		c.metrics.IncrementBulkItem(failures[i].ErrorKind)
	}

	span.SetAttributes(
		attribute.Int("succeeded", len(result.Succeeded)),
		attribute.Int("failed", len(result.Failed)),
	)
	audit.LogAudit(ctx, c.logger, "bulk_decision_executed",
		"operation_id", opID,
		"actor_id", req.ActorID,
		"desired_status", string(req.DesiredStatus),
		"reason", req.Reason,
		"requested", len(ids),
		"duplicates", duplicates,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
	)
	return result, nil
}

// applyOne returns nil when id was committed.
func (c *Coordinator) applyOne(ctx context.Context, id string, req Request) *models.BulkFailure {
	res, err := c.engine.ApplyTransition(ctx, engine.Request{
		SubjectID:     id,
		Kind:          req.Kind,
		DesiredStatus: req.DesiredStatus,
		Reason:        req.Reason,
		ActorID:       req.ActorID,
	})
	if err != nil {
		code, ok := dErrors.CodeOf(err)
		if !ok || code == dErrors.CodeInternal || code == dErrors.CodeTimeout {
			c.logger.ErrorContext(ctx, "bulk item failed",
				"subject_id", id,
				"error", err,
			)
			return &models.BulkFailure{ID: id, ErrorKind: string(dErrors.CodeInternal), Message: "internal error"}
		}
		return &models.BulkFailure{ID: id, ErrorKind: string(code), Message: dErrors.MessageOf(err)}
	}
	if res.Outcome == models.OutcomeCommitted {
		return nil
	}
	return classifyFinalized(id, res.Subject, req.DesiredStatus)
}

// classifyFinalized reports a replay of the same decision as already_finalized
// and a conflicting earlier decision as invalid_state_transition.
func classifyFinalized(id string, current *models.Subject, desired models.Status) *models.BulkFailure {
	if current != nil && current.Status == desired {
		return &models.BulkFailure{
			ID:        id,
			ErrorKind: string(dErrors.CodeAlreadyFinalized),
			Message:   fmt.Sprintf("subject is already %s", desired),
		}
	}
	status := models.Status("unknown")
	if current != nil {
		status = current.Status
	}
	return &models.BulkFailure{
		ID:        id,
		ErrorKind: string(dErrors.CodeInvalidStateTransition),
		Message:   fmt.Sprintf("subject is already %s and cannot become %s", status, desired),
	}
}
