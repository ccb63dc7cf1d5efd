// Package ports defines the storage and collaborator interfaces shared by the
// moderation engine, coordinator, dispatcher and aggregator.
package ports

import (
	"context"
	"time"

	"moderation/internal/moderation/models"
)

// AccessGate consumes an external authorization verdict.
type AccessGate interface {
	IsAuthorized(ctx context.Context, actorID, action string) (bool, error)
}

// LivePusher delivers a persisted notification to a connected recipient.
// delivered is false when nobody was listening.
type LivePusher interface {
	Push(ctx context.Context, n *models.Notification) (delivered bool, err error)
}

// SubjectWriter holds the guarded subject mutations.
type SubjectWriter interface {
	// InsertSubject stores a new pending subject. Returns sentinel.ErrConflict
	// when the id is taken or the prior subject already has a successor.
	InsertSubject(ctx context.Context, s *models.Subject) error

	// FinalizeIfPending moves the subject to status only if it is still pending.
	// Returns sentinel.ErrNotFound for unknown ids and sentinel.ErrInvalidState
	// when the guard fails.
	FinalizeIfPending(ctx context.Context, id string, status models.Status, actorID string, at time.Time) (*models.Subject, error)

	// AppendTransition writes an audit record. Records are never updated.
	AppendTransition(ctx context.Context, rec *models.TransitionRecord) error

	// GetSubject reads a subject inside the transaction.
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
}

// CounterWriter applies counter arithmetic inside a transition's transaction.
type CounterWriter interface {
	// ApplyCounterDelta decrements from (when non-empty) and increments to.
	ApplyCounterDelta(ctx context.Context, kind models.Kind, from, to models.Status) error
}

// CounterReconciler recomputes counters from subjects.
type CounterReconciler interface {
	// LockCounters returns the cached counters and blocks concurrent deltas
	// until the transaction ends.
	LockCounters(ctx context.Context) ([]models.Counters, error)
	CountSubjects(ctx context.Context) ([]models.Counters, error)
	OverwriteCounters(ctx context.Context, counters []models.Counters) error
}

// NotificationWriter persists notifications inside a transition's transaction.
type NotificationWriter interface {
	// InsertNotification assigns n.Sequence from the recipient's sequence and stores n.
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// OutboxWriter appends decision events for the relay.
type OutboxWriter interface {
	EnqueueOutbox(ctx context.Context, e *models.OutboxEntry) error
}

// OutboxClaimer hands unpublished entries to one relay at a time.
type OutboxClaimer interface {
	// ClaimOutbox returns up to limit unpublished entries in id order, locked
	// for the duration of the transaction.
	ClaimOutbox(ctx context.Context, limit int) ([]*models.OutboxEntry, error)
	MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Tx is the set of writes available inside one unit of work.
type Tx interface {
	SubjectWriter
	CounterWriter
	CounterReconciler
	NotificationWriter
	OutboxWriter
	OutboxClaimer
}

// Transactor runs fn atomically: every write made through tx commits or none does.
// fn must issue its statements on the ctx it receives, which carries the
// transaction deadline.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SubjectReader serves dashboard and queue queries.
type SubjectReader interface {
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
	ListSubjects(ctx context.Context, filter models.SubjectFilter) ([]*models.Subject, int, error)
	ListTransitions(ctx context.Context, subjectID string) ([]*models.TransitionRecord, error)
}

// CounterReader returns the cached counters.
type CounterReader interface {
	ListCounters(ctx context.Context) ([]models.Counters, error)
}

// NotificationStore serves recipient reads and read-state updates.
type NotificationStore interface {
	ListNotifications(ctx context.Context, recipientID string, q models.NotificationQuery) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	// MarkRead sets read_at if unset. Returns sentinel.ErrNotFound when the
	// notification does not exist for the recipient.
	MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) (*models.Notification, error)
	// MarkAllRead marks every unread notification and returns how many changed.
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
}

// Store is the full persistence surface implemented by the memory and Postgres stores.
type Store interface {
	Transactor
	SubjectReader
	CounterReader
	NotificationStore
	Ping(ctx context.Context) error
}
