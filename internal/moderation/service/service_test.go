package service

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

	"moderation/internal/moderation/access"
	"moderation/internal/moderation/aggregate"
	"moderation/internal/moderation/bulk"
	"moderation/internal/moderation/engine"
	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/notify"
	"moderation/internal/moderation/ports"
	"moderation/internal/moderation/ports/mocks"
	"moderation/internal/moderation/store/memory"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s.store = memory.New()
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	gate := access.NewStaticGate()
	gate.Grant("admin-1", access.Wildcard)
	gate.Grant("viewer", ActionViewQueue)
	s.service = s.build(gate)
}

func (s *ServiceSuite) build(gate ports.AccessGate) *Service {
	agg := aggregate.New(s.store, aggregate.WithLogger(s.logger))
	dispatcher := notify.New(s.store, notify.WithLogger(s.logger))
	eng := engine.New(s.store, gate, agg, dispatcher,
		engine.WithPolicy(engine.Policy{RequireRejectionReason: true}),
		engine.WithLogger(s.logger),
	)
	coord := bulk.New(eng, bulk.WithLogger(s.logger))
	return New(s.store, gate, eng, coord, agg, dispatcher, WithLogger(s.logger), WithMetrics(s.metrics))
}

func (s *ServiceSuite) submit(id string, kind models.Kind, owner string) *models.Subject {
	subj, err := s.service.Submit(s.ctx, SubmitRequest{ID: id, Kind: kind, OwnerID: owner, PayloadRef: "blob://" + id})
	s.Require().NoError(err)
	return subj
}

func (s *ServiceSuite) reject(id string, kind models.Kind) {
	d, err := s.service.Decide(s.ctx, Command{
		Kind: kind, SubjectIDs: []string{id}, DesiredStatus: models.StatusRejected, Reason: "incomplete", ActorID: "admin-1",
	})
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeCommitted, d.Single.Outcome)
}

func (s *ServiceSuite) countersFor(kind models.Kind) models.Counters {
	all, err := s.service.Counters(s.ctx, "admin-1")
	s.Require().NoError(err)
	for _, c := range all {
		if c.Kind == kind {
			return c
		}
	}
	return models.Counters{}
}

func (s *ServiceSuite) TestSubmitCreatesPendingSubject() {
	subj := s.submit("", models.KindDocumentUpload, " owner-1 ")
	s.NotEmpty(subj.ID)
	s.Equal(models.StatusPending, subj.Status)
	s.Equal("owner-1", subj.OwnerID)
	s.Equal(models.Counters{Kind: models.KindDocumentUpload, Pending: 1}, s.countersFor(models.KindDocumentUpload))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Submissions.WithLabelValues("document_upload", "new")))

	s.Run("duplicate id", func() {
		_, err := s.service.Submit(s.ctx, SubmitRequest{ID: subj.ID, Kind: models.KindDocumentUpload, OwnerID: "o", PayloadRef: "p"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
	s.Run("validation", func() {
		_, err := s.service.Submit(s.ctx, SubmitRequest{Kind: "invoice", OwnerID: "o", PayloadRef: "p"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.service.Submit(s.ctx, SubmitRequest{Kind: models.KindDocumentUpload, PayloadRef: "p"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.service.Submit(s.ctx, SubmitRequest{Kind: models.KindDocumentUpload, OwnerID: "o"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestResubmitLinksNewSubjectToRejectedPrior() {
	s.submit("S1", models.KindVehicleListing, "owner-1")
	s.reject("S1", models.KindVehicleListing)

	next, err := s.service.Resubmit(s.ctx, ResubmitRequest{ID: "S1-b", PriorID: "S1", OwnerID: "owner-1", PayloadRef: "blob://S1-b"})
	s.Require().NoError(err)
	s.Equal("S1", next.PriorID)
	s.Equal(models.StatusPending, next.Status)
	s.Equal(models.KindVehicleListing, next.Kind)

	prior, err := s.service.GetSubject(s.ctx, "admin-1", "S1")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, prior.Status)
	history, err := s.service.History(s.ctx, "admin-1", "S1")
	s.Require().NoError(err)
	s.Len(history, 1)

	s.Equal(models.Counters{Kind: models.KindVehicleListing, Pending: 1, Rejected: 1}, s.countersFor(models.KindVehicleListing))

	s.Run("only one successor", func() {
		_, err := s.service.Resubmit(s.ctx, ResubmitRequest{PriorID: "S1", OwnerID: "owner-1", PayloadRef: "p"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
	s.Run("owner must match", func() {
		s.submit("S2", models.KindVehicleListing, "owner-1")
		s.reject("S2", models.KindVehicleListing)
		_, err := s.service.Resubmit(s.ctx, ResubmitRequest{PriorID: "S2", OwnerID: "owner-2", PayloadRef: "p"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
	s.Run("prior must be rejected", func() {
		s.submit("S3", models.KindVehicleListing, "owner-1")
		_, err := s.service.Resubmit(s.ctx, ResubmitRequest{PriorID: "S3", OwnerID: "owner-1", PayloadRef: "p"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})
	s.Run("unknown prior", func() {
		_, err := s.service.Resubmit(s.ctx, ResubmitRequest{PriorID: "nope", OwnerID: "owner-1", PayloadRef: "p"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDecideRoutesByIDCount() {
	s.submit("B1", models.KindBookingRequest, "owner-1")
	s.submit("B2", models.KindBookingRequest, "owner-2")
	s.submit("B3", models.KindBookingRequest, "owner-3")

	single, err := s.service.Decide(s.ctx, Command{
		Kind: models.KindBookingRequest, SubjectIDs: []string{"B1", " B1 "}, DesiredStatus: models.StatusApproved, ActorID: "admin-1",
	})
	s.Require().NoError(err)
	s.Require().NotNil(single.Single)
	s.Nil(single.Bulk)

	many, err := s.service.Decide(s.ctx, Command{
		Kind: models.KindBookingRequest, SubjectIDs: []string{"B1", "B2", "B3"}, DesiredStatus: models.StatusApproved, ActorID: "admin-1",
	})
	s.Require().NoError(err)
	s.Require().NotNil(many.Bulk)
	s.Equal([]string{"B2", "B3"}, many.Bulk.Succeeded)
	s.Require().Len(many.Bulk.Failed, 1)
	s.Equal(string(dErrors.CodeAlreadyFinalized), many.Bulk.Failed[0].ErrorKind)
}

func (s *ServiceSuite) TestDecideRequiresMatchingKind() {
	s.submit("U1", models.KindUserRegistration, "owner-1")
	s.submit("D1", models.KindDocumentUpload, "owner-1")

	_, err := s.service.Decide(s.ctx, Command{
		Kind: models.KindDocumentUpload, SubjectIDs: []string{"U1"}, DesiredStatus: models.StatusApproved, ActorID: "admin-1",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	d, err := s.service.Decide(s.ctx, Command{
		Kind: models.KindDocumentUpload, SubjectIDs: []string{"U1", "D1"}, DesiredStatus: models.StatusApproved, ActorID: "admin-1",
	})
	s.Require().NoError(err)
	s.Equal([]string{"D1"}, d.Bulk.Succeeded)
	s.Equal("U1", d.Bulk.Failed[0].ID)
	s.Equal(string(dErrors.CodeNotFound), d.Bulk.Failed[0].ErrorKind)

	_, err = s.service.Decide(s.ctx, Command{Kind: "", SubjectIDs: []string{"D1"}, DesiredStatus: models.StatusApproved, ActorID: "admin-1"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.service.Decide(s.ctx, Command{Kind: models.KindDocumentUpload, SubjectIDs: []string{"D1"}, DesiredStatus: models.StatusApproved})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestQueriesAreGated() {
	s.submit("S1", models.KindVehicleListing, "owner-1")
	s.submit("S2", models.KindVehicleListing, "owner-1")
	s.submit("U1", models.KindUserRegistration, "owner-1")

	page, err := s.service.ListSubjects(s.ctx, "viewer", models.SubjectFilter{Kind: models.KindVehicleListing, Limit: 1})
	s.Require().NoError(err)
	s.Equal(2, page.Total)
	s.Len(page.Subjects, 1)
	s.Equal(1, page.Limit)

	_, err = s.service.ListSubjects(s.ctx, "viewer", models.SubjectFilter{Status: "archived"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.ListSubjects(s.ctx, "stranger", models.SubjectFilter{})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.service.Reconcile(s.ctx, "viewer")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	report, err := s.service.Reconcile(s.ctx, "admin-1")
	s.Require().NoError(err)
	s.False(report.Drifted)

	_, err = s.service.GetSubject(s.ctx, "viewer", "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestGateErrorIsInternal() {
	ctrl := gomock.NewController(s.T())
	gate := mocks.NewMockAccessGate(ctrl)
	gate.EXPECT().IsAuthorized(gomock.Any(), "admin-1", ActionViewQueue).Return(false, errors.New("timeout"))

	_, err := s.build(gate).Counters(s.ctx, "admin-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestOwnerReadsOwnNotifications() {
	s.submit("B1", models.KindBookingRequest, "owner-1")
	s.reject("B1", models.KindBookingRequest)

	list, err := s.service.Notifications(s.ctx, "owner-1", models.NotificationQuery{UnreadOnly: true})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("Your booking request B1 was declined: incomplete.", list[0].Message)

	others, err := s.service.Notifications(s.ctx, "owner-2", models.NotificationQuery{})
	s.Require().NoError(err)
	s.Empty(others)

	_, err = s.service.MarkRead(s.ctx, "owner-2", list[0].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	changed, err := s.service.MarkAllRead(s.ctx, "owner-1")
	s.Require().NoError(err)
	s.Equal(1, changed)
	unread, err := s.service.UnreadCount(s.ctx, "owner-1")
	s.Require().NoError(err)
	s.Zero(unread)
}
