package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	"moderation/internal/moderation/store/memory"
	"moderation/internal/platform/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	fail    error
}

func (f *fakePublisher) Publish(_ context.Context, msgs []kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakePublisher) published() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []kafka.Message
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

type RelaySuite struct {
	suite.Suite
	ctx       context.Context
	store     *memory.Store
	publisher *fakePublisher
	metrics   *metrics.Metrics
	relay     *Relay
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.publisher = &fakePublisher{}
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.relay = NewRelay(s.store, s.publisher,
		WithBatchSize(2),
		WithPollInterval(10*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
}

func (s *RelaySuite) enqueue(keys ...string) {
	s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		for _, k := range keys {
			if err := tx.EnqueueOutbox(s.ctx, &models.OutboxEntry{
				Topic: "decisions", Key: k, Payload: []byte(`{"subject_id":"` + k + `"}`), CreatedAt: time.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *RelaySuite) TestFlushPublishesInOrderAndMarks() {
	s.enqueue("S1", "S2", "S3")

	n, err := s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	n, err = s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	n, err = s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	msgs := s.publisher.published()
	s.Require().Len(msgs, 3)
	for i, key := range []string{"S1", "S2", "S3"} {
		s.Equal(key, string(msgs[i].Key))
		s.Equal("decisions", msgs[i].Topic)
		s.Equal(eventType, msgs[i].Headers["event_type"])
		s.NotEmpty(msgs[i].Headers["outbox_id"])
	}
	s.Empty(s.store.PendingOutbox())
	s.Equal(3.0, testutil.ToFloat64(s.metrics.OutboxPublished))
}

func (s *RelaySuite) TestPublishFailureLeavesEntriesPending() {
	s.enqueue("S1")
	s.publisher.fail = errors.New("broker unavailable")

	_, err := s.relay.Flush(s.ctx)
	s.Require().Error(err)
	s.Len(s.store.PendingOutbox(), 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.OutboxFailures))

	s.publisher.fail = nil
	n, err := s.relay.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Empty(s.store.PendingOutbox())
}

func (s *RelaySuite) TestRunDrainsUntilCancelled() {
	s.enqueue("S1", "S2", "S3", "S4", "S5")
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		s.relay.Run(ctx)
		close(done)
	}()

	s.Eventually(func() bool { return len(s.store.PendingOutbox()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	s.Len(s.publisher.published(), 5)
}
