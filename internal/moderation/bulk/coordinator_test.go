package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"moderation/internal/moderation/access"
	"moderation/internal/moderation/aggregate"
	"moderation/internal/moderation/engine"
	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/models"
	"moderation/internal/moderation/notify"
	"moderation/internal/moderation/ports"
	"moderation/internal/moderation/store/memory"
	dErrors "moderation/pkg/domain-errors"
)

type CoordinatorSuite struct {
	suite.Suite
	ctx         context.Context
	store       *memory.Store
	aggregator  *aggregate.Aggregator
	metrics     *metrics.Metrics
	logger      *slog.Logger
	engine      *engine.Engine
	coordinator *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.aggregator = aggregate.New(s.store, aggregate.WithLogger(s.logger))

	gate := access.NewStaticGate()
	gate.Grant("admin-1", "decide:user_registration")
	dispatcher := notify.New(s.store, notify.WithLogger(s.logger))
	s.engine = engine.New(s.store, gate, s.aggregator, dispatcher, engine.WithLogger(s.logger))
	s.coordinator = New(s.engine, WithConcurrency(4), WithLogger(s.logger), WithMetrics(s.metrics))
}

func (s *CoordinatorSuite) submit(ids ...string) {
	for _, id := range ids {
		s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
			if err := tx.InsertSubject(s.ctx, &models.Subject{
				ID: id, Kind: models.KindUserRegistration, Status: models.StatusPending, OwnerID: "owner-" + id, SubmittedAt: time.Now(),
			}); err != nil {
				return err
			}
			return s.aggregator.Register(s.ctx, tx, models.KindUserRegistration)
		}))
	}
}

func (s *CoordinatorSuite) decide(id string, to models.Status) {
	res, err := s.engine.ApplyTransition(s.ctx, engine.Request{SubjectID: id, DesiredStatus: to, ActorID: "admin-1"})
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeCommitted, res.Outcome)
}

func (s *CoordinatorSuite) TestApproveBatchWithPreviouslyRejectedMember() {
	s.submit("U1", "U2", "U3")
	s.decide("U2", models.StatusRejected)

	res, err := s.coordinator.ExecuteBulk(s.ctx, Request{
		SubjectIDs:    []string{"U1", "U2", "U3"},
		DesiredStatus: models.StatusApproved,
		ActorID:       "admin-1",
	})
	s.Require().NoError(err)

	s.NotEmpty(res.OperationID)
	s.Equal([]string{"U1", "U3"}, res.Succeeded)
	s.Require().Len(res.Failed, 1)
	s.Equal("U2", res.Failed[0].ID)
	s.Equal(string(dErrors.CodeInvalidStateTransition), res.Failed[0].ErrorKind)

	all, err := s.aggregator.Counters(s.ctx)
	s.Require().NoError(err)
	for _, c := range all {
		if c.Kind == models.KindUserRegistration {
			s.Equal(models.Counters{Kind: models.KindUserRegistration, Approved: 2, Rejected: 1}, c)
		}
	}
	s.Equal(2.0, testutil.ToFloat64(s.metrics.BulkItems.WithLabelValues("succeeded")))
}

func (s *CoordinatorSuite) TestRetryOnlyTouchesPendingIDs() {
	s.submit("U1", "U2", "U3")
	req := Request{SubjectIDs: []string{"U1", "U2", "missing", "U3"}, DesiredStatus: models.StatusApproved, ActorID: "admin-1"}

	first, err := s.coordinator.ExecuteBulk(s.ctx, req)
	s.Require().NoError(err)
	s.Equal([]string{"U1", "U2", "U3"}, first.Succeeded)

	retry, err := s.coordinator.ExecuteBulk(s.ctx, req)
	s.Require().NoError(err)
	s.Empty(retry.Succeeded)
	s.Require().Len(retry.Failed, 4)
	kinds := map[string]string{}
	for _, f := range retry.Failed {
		kinds[f.ID] = f.ErrorKind
	}
	s.Equal(map[string]string{
		"U1":      string(dErrors.CodeAlreadyFinalized),
		"U2":      string(dErrors.CodeAlreadyFinalized),
		"missing": string(dErrors.CodeNotFound),
		"U3":      string(dErrors.CodeAlreadyFinalized),
	}, kinds)

	for _, id := range []string{"U1", "U2", "U3"} {
		recs, err := s.store.ListTransitions(s.ctx, id)
		s.Require().NoError(err)
		s.Len(recs, 1, "retry added no record for %s", id)
	}
}

func (s *CoordinatorSuite) TestIDsAreTrimmedAndDeduplicated() {
	s.submit("U1", "U2")
	res, err := s.coordinator.ExecuteBulk(s.ctx, Request{
		SubjectIDs:    []string{" U1", "U2", "U1 ", "", "U2"},
		DesiredStatus: models.StatusApproved,
		ActorID:       "admin-1",
	})
	s.Require().NoError(err)
	s.Equal([]string{"U1", "U2"}, res.Succeeded)
	s.Empty(res.Failed)
}

func (s *CoordinatorSuite) TestRejectsCommandsThatCannotRun() {
	s.Run("empty set", func() {
		_, err := s.coordinator.ExecuteBulk(s.ctx, Request{SubjectIDs: []string{" ", ""}, DesiredStatus: models.StatusApproved})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("over max size", func() {
		c := New(s.engine, WithMaxSize(2), WithLogger(s.logger))
		_, err := c.ExecuteBulk(s.ctx, Request{SubjectIDs: []string{"a", "b", "c"}, DesiredStatus: models.StatusApproved})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("non terminal status", func() {
		_, err := s.coordinator.ExecuteBulk(s.ctx, Request{SubjectIDs: []string{"a"}, DesiredStatus: models.StatusPending})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})
}

// scriptedApplier answers from a table and tracks peak concurrency.
type scriptedApplier struct {
	mu       sync.Mutex
	answers  map[string]func() (*models.TransitionResult, error)
	active   atomic.Int32
	peak     atomic.Int32
	attempts map[string]int
}

func (a *scriptedApplier) ApplyTransition(_ context.Context, req engine.Request) (*models.TransitionResult, error) {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	a.mu.Lock()
	a.attempts[req.SubjectID]++
	answer, ok := a.answers[req.SubjectID]
	a.mu.Unlock()
	if !ok {
		return &models.TransitionResult{Outcome: models.OutcomeCommitted}, nil
	}
	return answer()
}

func (s *CoordinatorSuite) TestEveryIDReportedExactlyOnce() {
	applier := &scriptedApplier{
		attempts: map[string]int{},
		answers: map[string]func() (*models.TransitionResult, error){
			"id-3": func() (*models.TransitionResult, error) {
				return nil, errors.New("connection reset by peer")
			},
			"id-7": func() (*models.TransitionResult, error) {
				return nil, dErrors.New(dErrors.CodeUnauthorized, "actor may not decide")
			},
			"id-11": func() (*models.TransitionResult, error) {
				return &models.TransitionResult{
					Outcome: models.OutcomeAlreadyFinalized,
					Subject: &models.Subject{ID: "id-11", Status: models.StatusApproved},
				}, nil
			},
		},
	}
	c := New(applier, WithConcurrency(3), WithLogger(s.logger))

	ids := make([]string, 0, 40)
	for i := range 40 {
		ids = append(ids, fmt.Sprintf("id-%d", i))
	}
	res, err := c.ExecuteBulk(s.ctx, Request{SubjectIDs: ids, DesiredStatus: models.StatusApproved, ActorID: "admin-1"})
	s.Require().NoError(err)

	s.Len(res.Succeeded, 37)
	s.Require().Len(res.Failed, 3)
	s.Equal(models.BulkFailure{ID: "id-3", ErrorKind: string(dErrors.CodeInternal), Message: "internal error"}, res.Failed[0])
	s.Equal("id-7", res.Failed[1].ID)
	s.Equal(string(dErrors.CodeUnauthorized), res.Failed[1].ErrorKind)
	s.Equal("id-11", res.Failed[2].ID)
	s.Equal(string(dErrors.CodeAlreadyFinalized), res.Failed[2].ErrorKind)

	seen := map[string]int{}
	for _, id := range res.Succeeded {
		seen[id]++
	}
	for _, f := range res.Failed {
		seen[f.ID]++
	}
	s.Len(seen, len(ids))
	for _, id := range ids {
		s.Equal(1, seen[id], id)
		s.Equal(1, applier.attempts[id], id)
	}
	s.LessOrEqual(applier.peak.Load(), int32(3))
}
