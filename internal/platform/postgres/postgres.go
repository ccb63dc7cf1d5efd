// Package postgres opens the shared pgx pool and runs transactional units of work.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"moderation/internal/platform/config"
	dErrors "moderation/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// NewPool constructs a pgx connection pool. A non-public schema is applied to
// every connection through search_path.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres: empty connection string")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.Schema != "" && cfg.Schema != "public" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolCfg.ConnConfig.RuntimeParams["search_path"] = pq.QuoteIdentifier(cfg.Schema)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates schema if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if schema == "" || schema == "public" {
		return nil
	}
	_, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema))
	return err
}

// Transactor runs fn inside a single pgx transaction, bounded by a timeout when
// the caller did not set a deadline.
type Transactor struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewTransactor(pool *pgxpool.Pool, timeout time.Duration) *Transactor {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &Transactor{pool: pool, timeout: timeout}
}

// RunInTx commits when fn returns nil and rolls back otherwise. fn receives the
// deadline-bounded ctx; a statement cancelled by it surfaces as a timeout.
func (t *Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context, q pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	pgTx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapCtx(err, "begin transaction")
	}
	defer func() {
		_ = pgTx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, pgTx); err != nil {
		if _, coded := dErrors.CodeOf(err); !coded && ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction statement cancelled")
		}
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return wrapCtx(err, "commit transaction")
	}
	return nil
}

func wrapCtx(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
