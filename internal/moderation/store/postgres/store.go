// Package postgres is the durable Store backed by pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	platformpg "moderation/internal/platform/postgres"
	"moderation/pkg/platform/sentinel"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists moderation state in Postgres.
type Store struct {
	pool *pgxpool.Pool
	tx   *platformpg.Transactor
}

var _ ports.Store = (*Store)(nil)

func New(pool *pgxpool.Pool, txTimeout time.Duration) *Store {
	return &Store{
		pool: pool,
		tx:   platformpg.NewTransactor(pool, txTimeout),
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context, q pgx.Tx) error {
		return fn(ctx, &pgTx{q: q})
	})
}

const subjectColumns = `id, kind, status, owner_id, payload_ref, COALESCE(prior_id, ''), submitted_at, decided_at, COALESCE(decided_by, '')`

func scanSubject(row pgx.Row) (*models.Subject, error) {
	var subj models.Subject
	if err := row.Scan(
		&subj.ID, &subj.Kind, &subj.Status, &subj.OwnerID, &subj.PayloadRef,
		&subj.PriorID, &subj.SubmittedAt, &subj.DecidedAt, &subj.DecidedBy,
	); err != nil {
		return nil, err
	}
	return &subj, nil
}

func getSubject(ctx context.Context, q querier, id string) (*models.Subject, error) {
	subj, err := scanSubject(q.QueryRow(ctx, `SELECT `+subjectColumns+` FROM approval_subjects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject %s: %w", id, err)
	}
	return subj, nil
}

func (s *Store) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	return getSubject(ctx, s.pool, id)
}

func (s *Store) ListSubjects(ctx context.Context, filter models.SubjectFilter) ([]*models.Subject, int, error) {
	filter.Normalize()

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM approval_subjects
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)`,
		string(filter.Kind), string(filter.Status),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+subjectColumns+` FROM approval_subjects
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
		ORDER BY submitted_at, id
		LIMIT $3 OFFSET $4`,
		string(filter.Kind), string(filter.Status), filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	subjects := make([]*models.Subject, 0, filter.Limit)
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, total, nil
}

func (s *Store) ListTransitions(ctx context.Context, subjectID string) ([]*models.TransitionRecord, error) {
	if _, err := s.GetSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject_id, kind, from_status, to_status, reason, actor_id, committed_at
		FROM transition_records WHERE subject_id = $1
		ORDER BY committed_at, id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var records []*models.TransitionRecord
	for rows.Next() {
		var rec models.TransitionRecord
		if err := rows.Scan(&rec.ID, &rec.SubjectID, &rec.Kind, &rec.FromStatus, &rec.ToStatus,
			&rec.Reason, &rec.ActorID, &rec.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *Store) ListCounters(ctx context.Context) ([]models.Counters, error) {
	return listCounters(ctx, s.pool, "")
}

func listCounters(ctx context.Context, q querier, suffix string) ([]models.Counters, error) {
	rows, err := q.Query(ctx, `
		SELECT kind, pending_count, approved_count, rejected_count
		FROM status_counters ORDER BY kind`+suffix)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()

	byKind := make(map[models.Kind]models.Counters, len(models.AllKinds))
	for rows.Next() {
		var c models.Counters
		if err := rows.Scan(&c.Kind, &c.Pending, &c.Approved, &c.Rejected); err != nil {
			return nil, fmt.Errorf("scan counters: %w", err)
		}
		byKind[c.Kind] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	return orderCounters(byKind), nil
}

func orderCounters(byKind map[models.Kind]models.Counters) []models.Counters {
	out := make([]models.Counters, 0, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		c, ok := byKind[kind]
		if !ok {
			c = models.Counters{Kind: kind}
		}
		out = append(out, c)
	}
	return out
}

const notificationColumns = `id, recipient_id, subject_id, seq, message, created_at, read_at`

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	if err := row.Scan(&n.ID, &n.RecipientID, &n.SubjectID, &n.Sequence, &n.Message, &n.CreatedAt, &n.ReadAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, q models.NotificationQuery) ([]*models.Notification, error) {
	q.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = $1 AND seq > $2 AND (NOT $3 OR read_at IS NULL)
		ORDER BY seq
		LIMIT $4`, recipientID, q.AfterSequence, q.UnreadOnly, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE recipient_id = $1 AND read_at IS NULL`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *Store) MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) (*models.Notification, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns, notificationID, recipientID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

func (s *Store) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read_at = $2 WHERE recipient_id = $1 AND read_at IS NULL`,
		recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
