package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	"moderation/internal/moderation/ports/mocks"
	"moderation/internal/moderation/store/memory"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/circuit"
)

type DispatcherSuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	pusher  *mocks.MockLivePusher
	store   *memory.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.pusher = mocks.NewMockLivePusher(s.ctrl)
	s.store = memory.New()
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *DispatcherSuite) newDispatcher(opts ...Option) *Dispatcher {
	base := []Option{WithLogger(s.logger), WithMetrics(s.metrics), WithPusher(s.pusher)}
	return New(s.store, append(base, opts...)...)
}

func (s *DispatcherSuite) persist(d *Dispatcher, subjectID string, to models.Status, reason string) *models.Notification {
	subj := &models.Subject{ID: subjectID, Kind: models.KindBookingRequest, OwnerID: "owner-1"}
	rec := &models.TransitionRecord{SubjectID: subjectID, ToStatus: to, Reason: reason, CommittedAt: time.Now()}
	var n *models.Notification
	s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		var err error
		n, err = d.Persist(s.ctx, tx, subj, rec)
		return err
	}))
	return n
}

func (s *DispatcherSuite) TestRenderMessageUsesKindVocabulary() {
	subj := &models.Subject{ID: "B7", Kind: models.KindBookingRequest}
	s.Equal("Your booking request B7 was declined: dates unavailable.",
		RenderMessage(subj, &models.TransitionRecord{ToStatus: models.StatusRejected, Reason: " dates unavailable "}))

	doc := &models.Subject{ID: "D1", Kind: models.KindDocumentUpload}
	s.Equal("Your document D1 was verified.",
		RenderMessage(doc, &models.TransitionRecord{ToStatus: models.StatusApproved}))
}

func (s *DispatcherSuite) TestPersistAssignsSequenceInCommitOrder() {
	d := s.newDispatcher()
	for i, id := range []string{"B1", "B2", "B3"} {
		n := s.persist(d, id, models.StatusApproved, "")
		s.Equal(int64(i+1), n.Sequence)
	}

	list, err := d.List(s.ctx, "owner-1", models.NotificationQuery{})
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal([]string{"B1", "B2", "B3"}, []string{list[0].SubjectID, list[1].SubjectID, list[2].SubjectID})
}

func (s *DispatcherSuite) TestPushDelivered() {
	d := s.newDispatcher()
	n := s.persist(d, "B1", models.StatusApproved, "")

	s.pusher.EXPECT().Push(gomock.Any(), n).DoAndReturn(func(ctx context.Context, _ *models.Notification) (bool, error) {
		_, hasDeadline := ctx.Deadline()
		s.True(hasDeadline, "push runs under its own timeout")
		return true, nil
	})

	d.PushAsync(s.ctx, n)
	s.Require().NoError(d.Close(s.ctx))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PushAttempts.WithLabelValues("delivered")))
}

func (s *DispatcherSuite) TestPushIgnoresCallerCancellation() {
	d := s.newDispatcher()
	n := s.persist(d, "B1", models.StatusApproved, "")
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	s.pusher.EXPECT().Push(gomock.Any(), n).DoAndReturn(func(ctx context.Context, _ *models.Notification) (bool, error) {
		s.NoError(ctx.Err())
		return false, nil
	})

	d.PushAsync(ctx, n)
	s.Require().NoError(d.Close(s.ctx))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PushAttempts.WithLabelValues("unreachable")))
}

func (s *DispatcherSuite) TestPushFailuresOpenBreaker() {
	breaker := circuit.New("test-push", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	d := s.newDispatcher(WithBreaker(breaker))
	n := s.persist(d, "B1", models.StatusApproved, "")

	s.pusher.EXPECT().Push(gomock.Any(), n).Return(false, errors.New("redis down")).Times(2)

	for range 2 {
		d.PushAsync(s.ctx, n)
		s.Require().NoError(d.Close(s.ctx))
		d.closed = false
	}
	s.True(breaker.IsOpen())

	d.PushAsync(s.ctx, n)
	s.Require().NoError(d.Close(s.ctx))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.PushAttempts.WithLabelValues("failed")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PushAttempts.WithLabelValues("skipped")))

	list, err := d.List(s.ctx, "owner-1", models.NotificationQuery{})
	s.Require().NoError(err)
	s.Len(list, 1, "persisted notification unaffected by push failures")
}

func (s *DispatcherSuite) TestNoPusherPersistsOnly() {
	d := New(s.store, WithLogger(s.logger))
	n := s.persist(d, "B1", models.StatusRejected, "")
	d.PushAsync(s.ctx, n)
	s.NoError(d.Close(s.ctx))
}

func (s *DispatcherSuite) TestReadState() {
	d := s.newDispatcher()
	first := s.persist(d, "B1", models.StatusApproved, "")
	s.persist(d, "B2", models.StatusRejected, "no availability")

	s.Run("mark read twice is a no-op", func() {
		a, err := d.MarkRead(s.ctx, "owner-1", first.ID)
		s.Require().NoError(err)
		b, err := d.MarkRead(s.ctx, "owner-1", first.ID)
		s.Require().NoError(err)
		s.True(a.ReadAt.Equal(*b.ReadAt))

		count, err := d.UnreadCount(s.ctx, "owner-1")
		s.Require().NoError(err)
		s.Equal(1, count)
	})

	s.Run("unknown notification", func() {
		_, err := d.MarkRead(s.ctx, "owner-1", "nope")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("mark all read", func() {
		changed, err := d.MarkAllRead(s.ctx, "owner-1")
		s.Require().NoError(err)
		s.Equal(1, changed)
		changed, err = d.MarkAllRead(s.ctx, "owner-1")
		s.Require().NoError(err)
		s.Zero(changed)
	})

	s.Run("anonymous recipient", func() {
		_, err := d.List(s.ctx, "", models.NotificationQuery{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
