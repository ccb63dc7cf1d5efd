// Package outbox relays committed decision events to the event bus.
//
// Entries are claimed, published and marked in one store transaction. A crash
// between publish and commit republishes the batch, so delivery is at least
// once; consumers dedupe on the outbox_id header.
package outbox

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	"moderation/internal/platform/kafka"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/requestcontext"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
	eventType           = "subject.decided"
)

// Publisher delivers a batch to the event bus.
type Publisher interface {
	Publish(ctx context.Context, msgs []kafka.Message) error
}

type Relay struct {
	store     ports.Transactor
	publisher Publisher
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func NewRelay(store ports.Transactor, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		batchSize: defaultBatchSize,
		interval:  defaultPollInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush publishes at most one batch and returns how many entries it relayed.
// On a publish failure nothing is marked and the batch is retried later.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var relayed int
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		entries, err := tx.ClaimOutbox(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := r.publisher.Publish(ctx, toMessages(entries)); err != nil {
			return err
		}
		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := tx.MarkOutboxPublished(ctx, ids, requestcontext.Now(ctx)); err != nil {
			return err
		}
		relayed = len(entries)
		return nil
	})
	if err != nil {
		r.metrics.IncrementOutboxFailure()
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to relay decision events")
	}
	r.metrics.AddOutboxPublished(relayed)
	return relayed, nil
}

// Run polls until ctx is cancelled. Full batches are drained without waiting
// for the next tick.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.Flush(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "outbox relay failed", "error", err)
			return
		}
		if n > 0 {
			r.logger.DebugContext(ctx, "outbox batch relayed", "count", n)
		}
		if n < r.batchSize {
			return
		}
	}
}

func toMessages(entries []*models.OutboxEntry) []kafka.Message {
	msgs := make([]kafka.Message, len(entries))
	for i, e := range entries {
		msgs[i] = kafka.Message{
			Topic: e.Topic,
			Key:   []byte(e.Key),
			Value: e.Payload,
			Headers: map[string]string{
				"event_type": eventType,
				"outbox_id":  strconv.FormatInt(e.ID, 10),
			},
		}
	}
	return msgs
}
