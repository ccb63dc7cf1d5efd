// Package memory is the in-process Store used when no database is configured
// and by unit tests.
//
// Writes made through a transaction are staged and applied together under the
// store mutex at commit. FinalizeIfPending takes a per-subject shard lock that is
// held until the transaction ends, so two decisions on one subject serialize
// while decisions on different subjects proceed in parallel.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/sentinel"
)

const numSubjectShards = 128

const defaultTxTimeout = 5 * time.Second

// Store keeps every table in maps guarded by mu.
type Store struct {
	mu            sync.RWMutex
	subjects      map[string]*models.Subject
	successors    map[string]string
	transitions   map[string][]*models.TransitionRecord
	counters      map[models.Kind]*models.Counters
	notifications map[string][]*models.Notification
	notifByID     map[string]*models.Notification
	sequences     map[string]int64
	outbox        []*models.OutboxEntry
	outboxSeq     int64
	outboxClaimed map[int64]struct{}

	// shards are one-slot semaphores so a lock wait can give up on ctx.
	shards [numSubjectShards]chan struct{}
	// reconcileMu is held exclusively by a reconciliation transaction from
	// LockCounters until it ends; every other commit holds it shared.
	reconcileMu sync.RWMutex
	timeout     time.Duration
}

// Option configures the memory store.
type Option func(*Store)

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		subjects:      make(map[string]*models.Subject),
		successors:    make(map[string]string),
		transitions:   make(map[string][]*models.TransitionRecord),
		counters:      make(map[models.Kind]*models.Counters, len(models.AllKinds)),
		notifications: make(map[string][]*models.Notification),
		notifByID:     make(map[string]*models.Notification),
		sequences:     make(map[string]int64),
		outboxClaimed: make(map[int64]struct{}),
		timeout:       defaultTxTimeout,
	}
	for _, kind := range models.AllKinds {
		s.counters[kind] = &models.Counters{Kind: kind}
	}
	for i := range s.shards {
		s.shards[i] = make(chan struct{}, 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }

// RunInTx stages every write fn makes and applies them only if fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	t := &memTx{store: s, held: make(map[int]struct{})}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	return t.commit()
}

// hashSubjectID uses FNV-1a for shard selection.
func hashSubjectID(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// Reads

func (s *Store) GetSubject(_ context.Context, id string) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subj, ok := s.subjects[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return subj.Clone(), nil
}

func (s *Store) ListSubjects(_ context.Context, filter models.SubjectFilter) ([]*models.Subject, int, error) {
	filter.Normalize()
	s.mu.RLock()
	matched := make([]*models.Subject, 0)
	for _, subj := range s.subjects {
		if filter.Matches(subj) {
			matched = append(matched, subj.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].SubmittedAt.Equal(matched[j].SubmittedAt) {
			return matched[i].SubmittedAt.Before(matched[j].SubmittedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Subject{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

func (s *Store) ListTransitions(_ context.Context, subjectID string) ([]*models.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.subjects[subjectID]; !ok {
		return nil, sentinel.ErrNotFound
	}
	records := s.transitions[subjectID]
	out := make([]*models.TransitionRecord, len(records))
	for i, rec := range records {
		c := *rec
		out[i] = &c
	}
	return out, nil
}

func (s *Store) ListCounters(context.Context) ([]models.Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotCountersLocked(), nil
}

func (s *Store) snapshotCountersLocked() []models.Counters {
	out := make([]models.Counters, 0, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		out = append(out, *s.counters[kind])
	}
	return out
}

func (s *Store) ListNotifications(_ context.Context, recipientID string, q models.NotificationQuery) ([]*models.Notification, error) {
	q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Notification, 0)
	for _, n := range s.notifications[recipientID] {
		if n.Sequence <= q.AfterSequence {
			continue
		}
		if q.UnreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n.Clone())
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UnreadCount(_ context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications[recipientID] {
		if n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkRead(_ context.Context, recipientID, notificationID string, at time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifByID[notificationID]
	if !ok || n.RecipientID != recipientID {
		return nil, sentinel.ErrNotFound
	}
	if n.ReadAt == nil {
		readAt := at
		n.ReadAt = &readAt
	}
	return n.Clone(), nil
}

func (s *Store) MarkAllRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, n := range s.notifications[recipientID] {
		if n.ReadAt == nil {
			readAt := at
			n.ReadAt = &readAt
			changed++
		}
	}
	return changed, nil
}
