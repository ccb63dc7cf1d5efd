package memory

import (
	"context"
	"fmt"
	"time"

	"moderation/internal/moderation/models"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/sentinel"
)

// memTx stages writes as closures. checks run before ops under the store
// mutex so a failed check leaves the store untouched.
type memTx struct {
	store          *Store
	held           map[int]struct{}
	holdsReconcile bool
	claimed        []int64
	checks         []func() error
	ops            []func()
}

// lockSubject holds the subject's shard until the transaction ends.
func (t *memTx) lockSubject(ctx context.Context, id string) error {
	shard := int(hashSubjectID(id) % numSubjectShards)
	if _, ok := t.held[shard]; ok {
		return nil
	}
	if err := live(ctx); err != nil {
		return err
	}
	select {
	case t.store.shards[shard] <- struct{}{}:
		t.held[shard] = struct{}{}
		return nil
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "waiting for subject lock")
	}
}

func live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context done")
	}
	return nil
}

func (t *memTx) release() {
	for shard := range t.held {
		<-t.store.shards[shard]
	}
	t.held = nil
	if len(t.claimed) > 0 {
		t.store.mu.Lock()
		for _, id := range t.claimed {
			delete(t.store.outboxClaimed, id)
		}
		t.store.mu.Unlock()
		t.claimed = nil
	}
	if t.holdsReconcile {
		t.store.reconcileMu.Unlock()
		t.holdsReconcile = false
	}
}

func (t *memTx) commit() error {
	if len(t.ops) == 0 {
		return nil
	}
	if !t.holdsReconcile {
		t.store.reconcileMu.RLock()
		defer t.store.reconcileMu.RUnlock()
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, check := range t.checks {
		if err := check(); err != nil {
			return err
		}
	}
	for _, op := range t.ops {
		op()
	}
	return nil
}

func (t *memTx) GetSubject(_ context.Context, id string) (*models.Subject, error) {
	return t.store.GetSubject(context.Background(), id)
}

func (t *memTx) InsertSubject(ctx context.Context, subj *models.Subject) error {
	if subj == nil || subj.ID == "" {
		return fmt.Errorf("insert subject: missing id")
	}
	s := t.store
	staged := subj.Clone()
	if err := t.lockSubject(ctx, staged.ID); err != nil {
		return err
	}

	check := func() error {
		if _, exists := s.subjects[staged.ID]; exists {
			return fmt.Errorf("subject %s: %w", staged.ID, sentinel.ErrConflict)
		}
		if staged.PriorID != "" {
			if _, taken := s.successors[staged.PriorID]; taken {
				return fmt.Errorf("subject %s already resubmitted: %w", staged.PriorID, sentinel.ErrConflict)
			}
		}
		return nil
	}
	s.mu.RLock()
	err := check()
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	t.checks = append(t.checks, check)
	t.ops = append(t.ops, func() {
		s.subjects[staged.ID] = staged
		if staged.PriorID != "" {
			s.successors[staged.PriorID] = staged.ID
		}
	})
	return nil
}

func (t *memTx) FinalizeIfPending(ctx context.Context, id string, status models.Status, actorID string, at time.Time) (*models.Subject, error) {
	s := t.store
	if err := t.lockSubject(ctx, id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	current, ok := s.subjects[id]
	var snapshot *models.Subject
	if ok {
		snapshot = current.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !snapshot.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("subject %s is %s: %w", id, snapshot.Status, sentinel.ErrInvalidState)
	}

	decidedAt := at
	snapshot.Status = status
	snapshot.DecidedAt = &decidedAt
	snapshot.DecidedBy = actorID
	staged := snapshot.Clone()
	t.ops = append(t.ops, func() {
		s.subjects[id] = staged
	})
	return snapshot, nil
}

func (t *memTx) AppendTransition(ctx context.Context, rec *models.TransitionRecord) error {
	if err := live(ctx); err != nil {
		return err
	}
	s := t.store
	staged := *rec
	t.ops = append(t.ops, func() {
		s.transitions[staged.SubjectID] = append(s.transitions[staged.SubjectID], &staged)
	})
	return nil
}

func (t *memTx) ApplyCounterDelta(ctx context.Context, kind models.Kind, from, to models.Status) error {
	if err := live(ctx); err != nil {
		return err
	}
	if !kind.IsValid() {
		return fmt.Errorf("apply counter delta: unknown kind %q", kind)
	}
	s := t.store
	t.ops = append(t.ops, func() {
		c := s.counters[kind]
		if from != "" {
			c.Add(from, -1)
		}
		c.Add(to, 1)
	})
	return nil
}

func (t *memTx) LockCounters(context.Context) ([]models.Counters, error) {
	if !t.holdsReconcile {
		t.store.reconcileMu.Lock()
		t.holdsReconcile = true
	}
	return t.store.ListCounters(context.Background())
}

func (t *memTx) CountSubjects(context.Context) ([]models.Counters, error) {
	s := t.store
	fresh := make(map[models.Kind]*models.Counters, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		fresh[kind] = &models.Counters{Kind: kind}
	}
	s.mu.RLock()
	for _, subj := range s.subjects {
		if c, ok := fresh[subj.Kind]; ok {
			c.Add(subj.Status, 1)
		}
	}
	s.mu.RUnlock()

	out := make([]models.Counters, 0, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		out = append(out, *fresh[kind])
	}
	return out, nil
}

func (t *memTx) OverwriteCounters(ctx context.Context, counters []models.Counters) error {
	if err := live(ctx); err != nil {
		return err
	}
	s := t.store
	staged := append([]models.Counters(nil), counters...)
	t.ops = append(t.ops, func() {
		for _, c := range staged {
			if existing, ok := s.counters[c.Kind]; ok {
				*existing = c
			}
		}
	})
	return nil
}

func (t *memTx) InsertNotification(ctx context.Context, n *models.Notification) error {
	if err := live(ctx); err != nil {
		return err
	}
	s := t.store
	t.ops = append(t.ops, func() {
		s.sequences[n.RecipientID]++
		n.Sequence = s.sequences[n.RecipientID]
		stored := n.Clone()
		s.notifications[n.RecipientID] = append(s.notifications[n.RecipientID], stored)
		s.notifByID[stored.ID] = stored
	})
	return nil
}

func (t *memTx) EnqueueOutbox(ctx context.Context, e *models.OutboxEntry) error {
	if err := live(ctx); err != nil {
		return err
	}
	s := t.store
	staged := *e
	staged.Payload = append([]byte(nil), e.Payload...)
	t.ops = append(t.ops, func() {
		s.outboxSeq++
		staged.ID = s.outboxSeq
		e.ID = staged.ID
		s.outbox = append(s.outbox, &staged)
	})
	return nil
}

func (t *memTx) ClaimOutbox(ctx context.Context, limit int) ([]*models.OutboxEntry, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OutboxEntry, 0, limit)
	for _, e := range s.outbox {
		if len(out) == limit {
			break
		}
		if e.PublishedAt != nil {
			continue
		}
		if _, busy := s.outboxClaimed[e.ID]; busy {
			continue
		}
		s.outboxClaimed[e.ID] = struct{}{}
		t.claimed = append(t.claimed, e.ID)
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (t *memTx) MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error {
	if err := live(ctx); err != nil {
		return err
	}
	s := t.store
	marked := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		marked[id] = struct{}{}
	}
	t.ops = append(t.ops, func() {
		for _, e := range s.outbox {
			if _, ok := marked[e.ID]; ok && e.PublishedAt == nil {
				publishedAt := at
				e.PublishedAt = &publishedAt
			}
		}
	})
	return nil
}

// PendingOutbox returns unpublished entries in id order.
func (s *Store) PendingOutbox() []*models.OutboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.OutboxEntry, 0)
	for _, e := range s.outbox {
		if e.PublishedAt == nil {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}
