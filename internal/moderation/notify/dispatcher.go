// Package notify persists decision notifications and pushes them to
// connected recipients. The persisted list is the source of truth; the live
// push is best effort and never affects the transition that produced it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/circuit"
	"moderation/pkg/platform/sentinel"
	"moderation/pkg/requestcontext"
)

const defaultPushTimeout = 2 * time.Second

type Dispatcher struct {
	store   ports.NotificationStore
	pusher  ports.LivePusher
	breaker *circuit.Breaker
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight sync.WaitGroup
	closed   bool
}

type Option func(*Dispatcher)

// WithPusher enables live push. Without one, notifications are persisted only.
func WithPusher(p ports.LivePusher) Option {
	return func(d *Dispatcher) {
		d.pusher = p
	}
}

func WithPushTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(d *Dispatcher) {
		d.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(store ports.NotificationStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		timeout: defaultPushTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breaker == nil {
		d.breaker = circuit.New("live-push")
	}
	return d
}

// RenderMessage builds the owner-facing text using the kind's vocabulary.
func RenderMessage(subj *models.Subject, rec *models.TransitionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your %s %s was %s", subj.Kind.Noun(), subj.ID, subj.Kind.Label(rec.ToStatus))
	if reason := strings.TrimSpace(rec.Reason); reason != "" {
		fmt.Fprintf(&b, ": %s", reason)
	}
	b.WriteString(".")
	return b.String()
}

// Persist writes the notification inside the transition's transaction. The
// store assigns the recipient sequence number.
func (d *Dispatcher) Persist(ctx context.Context, w ports.NotificationWriter, subj *models.Subject, rec *models.TransitionRecord) (*models.Notification, error) {
	n := &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: subj.OwnerID,
		SubjectID:   subj.ID,
		Message:     RenderMessage(subj, rec),
		CreatedAt:   rec.CommittedAt,
	}
	if err := w.InsertNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// PushAsync attempts a live push after commit. It returns immediately.
func (d *Dispatcher) PushAsync(ctx context.Context, n *models.Notification) {
	if d.pusher == nil || n == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.IncrementPush("skipped")
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	pushCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.inflight.Done()
		d.push(pushCtx, n)
	}()
}

func (d *Dispatcher) push(ctx context.Context, n *models.Notification) {
	if !d.breaker.Allow() {
		d.metrics.IncrementPush("skipped")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	delivered, err := d.pusher.Push(ctx, n)
	if err != nil {
		_, change := d.breaker.RecordFailure()
		d.metrics.IncrementPush("failed")
		d.logger.WarnContext(ctx, "live push failed",
			"notification_id", n.ID,
			"recipient_id", n.RecipientID,
			"error", err,
		)
		if change.Opened {
			d.logger.ErrorContext(ctx, "live push circuit opened", "breaker", d.breaker.Name())
		}
		return
	}

	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.InfoContext(ctx, "live push circuit closed", "breaker", d.breaker.Name())
	}
	if !delivered {
		d.metrics.IncrementPush("unreachable")
		d.logger.DebugContext(ctx, "recipient not connected",
			"notification_id", n.ID,
			"recipient_id", n.RecipientID,
		)
		return
	}
	d.metrics.IncrementPush("delivered")
}

// Close stops accepting pushes and waits for in-flight ones, bounded by ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns the recipient's notifications in ascending sequence order.
func (d *Dispatcher) List(ctx context.Context, recipientID string, q models.NotificationQuery) ([]*models.Notification, error) {
	if recipientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "recipient required")
	}
	list, err := d.store.ListNotifications(ctx, recipientID, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	return list, nil
}

func (d *Dispatcher) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "recipient required")
	}
	count, err := d.store.UnreadCount(ctx, recipientID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count unread notifications")
	}
	return count, nil
}

// MarkRead is idempotent: an already-read notification keeps its first read time.
func (d *Dispatcher) MarkRead(ctx context.Context, recipientID, notificationID string) (*models.Notification, error) {
	if recipientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "recipient required")
	}
	n, err := d.store.MarkRead(ctx, recipientID, notificationID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notification read")
	}
	return n, nil
}

// MarkAllRead returns how many notifications changed; zero on repeat calls.
func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "recipient required")
	}
	changed, err := d.store.MarkAllRead(ctx, recipientID, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notifications read")
	}
	return changed, nil
}
