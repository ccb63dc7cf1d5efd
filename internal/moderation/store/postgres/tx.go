package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"moderation/internal/moderation/models"
	"moderation/pkg/platform/sentinel"
)

// pgTx implements ports.Tx on one open transaction.
type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	return getSubject(ctx, t.q, id)
}

func (t *pgTx) InsertSubject(ctx context.Context, subj *models.Subject) error {
	var prior any
	if subj.PriorID != "" {
		prior = subj.PriorID
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO approval_subjects (id, kind, status, owner_id, payload_ref, prior_id, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		subj.ID, string(subj.Kind), string(subj.Status), subj.OwnerID, subj.PayloadRef, prior, subj.SubmittedAt,
	)
	switch pgCode(err) {
	case "":
	case pgUniqueViolation:
		return fmt.Errorf("subject %s: %w", subj.ID, sentinel.ErrConflict)
	case pgForeignKeyViolation:
		return fmt.Errorf("prior subject %s: %w", subj.PriorID, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// FinalizeIfPending is the status=pending guard. Under READ COMMITTED a racing
// UPDATE waits for the winner's row lock, re-evaluates the predicate and
// matches zero rows.
func (t *pgTx) FinalizeIfPending(ctx context.Context, id string, status models.Status, actorID string, at time.Time) (*models.Subject, error) {
	subj, err := scanSubject(t.q.QueryRow(ctx, `
		UPDATE approval_subjects
		SET status = $2, decided_at = $3, decided_by = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+subjectColumns, id, string(status), at, actorID))
	if err == nil {
		return subj, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("finalize subject: %w", err)
	}

	current, err := getSubject(ctx, t.q, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("subject %s is %s: %w", id, current.Status, sentinel.ErrInvalidState)
}

func (t *pgTx) AppendTransition(ctx context.Context, rec *models.TransitionRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO transition_records (id, subject_id, kind, from_status, to_status, reason, actor_id, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SubjectID, string(rec.Kind), string(rec.FromStatus), string(rec.ToStatus),
		rec.Reason, rec.ActorID, rec.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// ApplyCounterDelta is a single arithmetic UPDATE; the row lock it takes is
// what LockCounters waits on.
func (t *pgTx) ApplyCounterDelta(ctx context.Context, kind models.Kind, from, to models.Status) error {
	var delta models.Counters
	if from != "" {
		delta.Add(from, -1)
	}
	delta.Add(to, 1)

	tag, err := t.q.Exec(ctx, `
		UPDATE status_counters
		SET pending_count = pending_count + $2,
		    approved_count = approved_count + $3,
		    rejected_count = rejected_count + $4
		WHERE kind = $1`,
		string(kind), delta.Pending, delta.Approved, delta.Rejected,
	)
	if err != nil {
		return fmt.Errorf("apply counter delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply counter delta: no counters row for %s", kind)
	}
	return nil
}

func (t *pgTx) LockCounters(ctx context.Context) ([]models.Counters, error) {
	return listCounters(ctx, t.q, " FOR UPDATE")
}

func (t *pgTx) CountSubjects(ctx context.Context) ([]models.Counters, error) {
	rows, err := t.q.Query(ctx, `
		SELECT kind, status, count(*) FROM approval_subjects GROUP BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("count subjects: %w", err)
	}
	defer rows.Close()

	byKind := make(map[models.Kind]models.Counters, len(models.AllKinds))
	for rows.Next() {
		var (
			kind   models.Kind
			status models.Status
			n      int64
		)
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, fmt.Errorf("scan subject count: %w", err)
		}
		c := byKind[kind]
		c.Kind = kind
		c.Add(status, n)
		byKind[kind] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count subjects: %w", err)
	}
	return orderCounters(byKind), nil
}

func (t *pgTx) OverwriteCounters(ctx context.Context, counters []models.Counters) error {
	batch := &pgx.Batch{}
	for _, c := range counters {
		batch.Queue(`
			UPDATE status_counters
			SET pending_count = $2, approved_count = $3, rejected_count = $4
			WHERE kind = $1`,
			string(c.Kind), c.Pending, c.Approved, c.Rejected)
	}
	if err := t.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("overwrite counters: %w", err)
	}
	return nil
}

// InsertNotification allocates the recipient's next sequence number. The
// sequence row stays locked until commit, so sequence order is commit order.
func (t *pgTx) InsertNotification(ctx context.Context, n *models.Notification) error {
	var seq int64
	err := t.q.QueryRow(ctx, `
		INSERT INTO notification_sequences (recipient_id, last_seq) VALUES ($1, 1)
		ON CONFLICT (recipient_id) DO UPDATE SET last_seq = notification_sequences.last_seq + 1
		RETURNING last_seq`, n.RecipientID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocate notification sequence: %w", err)
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, subject_id, seq, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.RecipientID, n.SubjectID, seq, n.Message, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.Sequence = seq
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, e *models.OutboxEntry) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO decision_outbox (topic, msg_key, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, e.Topic, e.Key, e.Payload, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

// ClaimOutbox skips rows locked by another relay instance.
func (t *pgTx) ClaimOutbox(ctx context.Context, limit int) ([]*models.OutboxEntry, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, topic, msg_key, payload, created_at
		FROM decision_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	out := make([]*models.OutboxEntry, 0, limit)
	for rows.Next() {
		var e models.OutboxEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx,
		`UPDATE decision_outbox SET published_at = $2 WHERE id = ANY($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
