// Package storetest is a conformance suite run against every ports.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	"moderation/pkg/platform/sentinel"
)

// Suite exercises store invariants. Set NewStore before running; it is called
// once per test and must return an empty store.
type Suite struct {
	suite.Suite
	NewStore func() ports.Store
	store    ports.Store
	ctx      context.Context
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func (s *Suite) seed(id string, kind models.Kind, owner string, offset time.Duration) *models.Subject {
	subj := &models.Subject{
		ID:          id,
		Kind:        kind,
		Status:      models.StatusPending,
		OwnerID:     owner,
		PayloadRef:  "blob://" + id,
		SubmittedAt: baseTime.Add(offset),
	}
	err := s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		if err := tx.InsertSubject(s.ctx, subj); err != nil {
			return err
		}
		return tx.ApplyCounterDelta(s.ctx, kind, "", models.StatusPending)
	})
	s.Require().NoError(err)
	return subj
}

func (s *Suite) counters(kind models.Kind) models.Counters {
	all, err := s.store.ListCounters(s.ctx)
	s.Require().NoError(err)
	for _, c := range all {
		if c.Kind == kind {
			return c
		}
	}
	s.FailNow("missing counters row", kind)
	return models.Counters{}
}

func (s *Suite) finalize(id string, to models.Status, actor string) (*models.Subject, error) {
	var out *models.Subject
	err := s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		updated, err := tx.FinalizeIfPending(s.ctx, id, to, actor, baseTime.Add(time.Hour))
		if err != nil {
			return err
		}
		out = updated
		if err := tx.AppendTransition(s.ctx, &models.TransitionRecord{
			ID: uuid.NewString(), SubjectID: id, Kind: updated.Kind,
			FromStatus: models.StatusPending, ToStatus: to, ActorID: actor,
			CommittedAt: baseTime.Add(time.Hour),
		}); err != nil {
			return err
		}
		return tx.ApplyCounterDelta(s.ctx, updated.Kind, models.StatusPending, to)
	})
	return out, err
}

func (s *Suite) TestSubjectLifecycle() {
	s.seed("S101", models.KindVehicleListing, "owner-1", 0)

	s.Run("insert is visible and counted", func() {
		got, err := s.store.GetSubject(s.ctx, "S101")
		s.Require().NoError(err)
		s.Equal(models.StatusPending, got.Status)
		s.Equal("owner-1", got.OwnerID)
		s.Equal(int64(1), s.counters(models.KindVehicleListing).Pending)
	})

	s.Run("duplicate id conflicts", func() {
		err := s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
			return tx.InsertSubject(s.ctx, &models.Subject{
				ID: "S101", Kind: models.KindVehicleListing, Status: models.StatusPending,
				OwnerID: "owner-2", SubmittedAt: baseTime,
			})
		})
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("guarded finalize commits once", func() {
		updated, err := s.finalize("S101", models.StatusRejected, "admin-a")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, updated.Status)
		s.Equal("admin-a", updated.DecidedBy)
		s.Require().NotNil(updated.DecidedAt)

		_, err = s.finalize("S101", models.StatusApproved, "admin-b")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		got, err := s.store.GetSubject(s.ctx, "S101")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, got.Status)

		records, err := s.store.ListTransitions(s.ctx, "S101")
		s.Require().NoError(err)
		s.Len(records, 1)

		c := s.counters(models.KindVehicleListing)
		s.Equal(models.Counters{Kind: models.KindVehicleListing, Rejected: 1}, c)
	})

	s.Run("unknown subject", func() {
		_, err := s.finalize("missing", models.StatusApproved, "admin-a")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.GetSubject(s.ctx, "missing")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *Suite) TestRollbackDiscardsEveryWrite() {
	s.seed("U1", models.KindUserRegistration, "owner-1", 0)
	boom := errors.New("boom")

	err := s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		if _, err := tx.FinalizeIfPending(s.ctx, "U1", models.StatusApproved, "admin", baseTime); err != nil {
			return err
		}
		if err := tx.ApplyCounterDelta(s.ctx, models.KindUserRegistration, models.StatusPending, models.StatusApproved); err != nil {
			return err
		}
		if err := tx.InsertNotification(s.ctx, &models.Notification{
			ID: uuid.NewString(), RecipientID: "owner-1", SubjectID: "U1", Message: "x", CreatedAt: baseTime,
		}); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	got, err := s.store.GetSubject(s.ctx, "U1")
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(int64(1), s.counters(models.KindUserRegistration).Pending)

	list, err := s.store.ListNotifications(s.ctx, "owner-1", models.NotificationQuery{})
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *Suite) TestConcurrentFinalizeHasOneWinner() {
	s.seed("B1", models.KindBookingRequest, "owner-1", 0)

	const racers = 16
	var wins, lost atomic.Int32
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			to := models.StatusApproved
			if i%2 == 1 {
				to = models.StatusRejected
			}
			_, err := s.finalize("B1", to, fmt.Sprintf("admin-%d", i))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrInvalidState):
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(racers-1), lost.Load())

	records, err := s.store.ListTransitions(s.ctx, "B1")
	s.Require().NoError(err)
	s.Require().Len(records, 1)

	got, err := s.store.GetSubject(s.ctx, "B1")
	s.Require().NoError(err)
	s.Equal(records[0].ToStatus, got.Status)

	c := s.counters(models.KindBookingRequest)
	s.Zero(c.Pending)
	s.Equal(int64(1), c.Approved+c.Rejected)
}

func (s *Suite) TestListSubjectsFiltersAndPages() {
	s.seed("D1", models.KindDocumentUpload, "o", 1*time.Minute)
	s.seed("D2", models.KindDocumentUpload, "o", 2*time.Minute)
	s.seed("D3", models.KindDocumentUpload, "o", 3*time.Minute)
	s.seed("V1", models.KindVehicleListing, "o", 4*time.Minute)
	_, err := s.finalize("D2", models.StatusApproved, "admin")
	s.Require().NoError(err)

	page, total, err := s.store.ListSubjects(s.ctx, models.SubjectFilter{
		Kind: models.KindDocumentUpload, Status: models.StatusPending, Limit: 1,
	})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Require().Len(page, 1)
	s.Equal("D1", page[0].ID)

	page, _, err = s.store.ListSubjects(s.ctx, models.SubjectFilter{
		Kind: models.KindDocumentUpload, Status: models.StatusPending, Limit: 1, Offset: 1,
	})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("D3", page[0].ID)

	_, total, err = s.store.ListSubjects(s.ctx, models.SubjectFilter{})
	s.Require().NoError(err)
	s.Equal(4, total)
}

func (s *Suite) TestNotificationSequenceAndReadState() {
	for i := range 3 {
		err := s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
			return tx.InsertNotification(s.ctx, &models.Notification{
				ID: uuid.NewString(), RecipientID: "owner-1", SubjectID: fmt.Sprintf("S%d", i),
				Message: "decided", CreatedAt: baseTime,
			})
		})
		s.Require().NoError(err)
	}

	list, err := s.store.ListNotifications(s.ctx, "owner-1", models.NotificationQuery{})
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	for i, n := range list {
		s.Equal(int64(i+1), n.Sequence)
	}

	s.Run("after cursor", func() {
		tail, err := s.store.ListNotifications(s.ctx, "owner-1", models.NotificationQuery{AfterSequence: 2})
		s.Require().NoError(err)
		s.Require().Len(tail, 1)
		s.Equal(int64(3), tail[0].Sequence)
	})

	s.Run("mark read is idempotent", func() {
		first, err := s.store.MarkRead(s.ctx, "owner-1", list[0].ID, baseTime.Add(time.Minute))
		s.Require().NoError(err)
		s.Require().NotNil(first.ReadAt)

		again, err := s.store.MarkRead(s.ctx, "owner-1", list[0].ID, baseTime.Add(time.Hour))
		s.Require().NoError(err)
		s.True(first.ReadAt.Equal(*again.ReadAt))

		unread, err := s.store.UnreadCount(s.ctx, "owner-1")
		s.Require().NoError(err)
		s.Equal(2, unread)
	})

	s.Run("mark read of another recipient's notification", func() {
		_, err := s.store.MarkRead(s.ctx, "someone-else", list[1].ID, baseTime)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("mark all read", func() {
		changed, err := s.store.MarkAllRead(s.ctx, "owner-1", baseTime.Add(2*time.Hour))
		s.Require().NoError(err)
		s.Equal(2, changed)

		changed, err = s.store.MarkAllRead(s.ctx, "owner-1", baseTime.Add(3*time.Hour))
		s.Require().NoError(err)
		s.Zero(changed)

		unread, err := s.store.ListNotifications(s.ctx, "owner-1", models.NotificationQuery{UnreadOnly: true})
		s.Require().NoError(err)
		s.Empty(unread)
	})
}

func (s *Suite) TestReconcileOverwritesDrift() {
	s.seed("R1", models.KindVehicleListing, "o", 0)
	s.seed("R2", models.KindVehicleListing, "o", time.Minute)
	_, err := s.finalize("R1", models.StatusApproved, "admin")
	s.Require().NoError(err)

	drifted := []models.Counters{{Kind: models.KindVehicleListing, Pending: 9, Approved: 0, Rejected: 4}}
	s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		return tx.OverwriteCounters(s.ctx, drifted)
	}))
	s.Equal(int64(9), s.counters(models.KindVehicleListing).Pending)

	var before, fresh []models.Counters
	s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		var err error
		if before, err = tx.LockCounters(s.ctx); err != nil {
			return err
		}
		if fresh, err = tx.CountSubjects(s.ctx); err != nil {
			return err
		}
		return tx.OverwriteCounters(s.ctx, fresh)
	}))

	s.Len(before, len(models.AllKinds))
	s.Equal(models.Counters{Kind: models.KindVehicleListing, Pending: 1, Approved: 1}, s.counters(models.KindVehicleListing))
	s.Equal(models.Counters{Kind: models.KindBookingRequest}, s.counters(models.KindBookingRequest))
}

func (s *Suite) TestResubmissionLinksPrior() {
	s.seed("P1", models.KindDocumentUpload, "owner-1", 0)
	_, err := s.finalize("P1", models.StatusRejected, "admin")
	s.Require().NoError(err)

	insert := func(id string) error {
		return s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
			return tx.InsertSubject(s.ctx, &models.Subject{
				ID: id, Kind: models.KindDocumentUpload, Status: models.StatusPending,
				OwnerID: "owner-1", PriorID: "P1", SubmittedAt: baseTime.Add(time.Hour),
			})
		})
	}
	s.Require().NoError(insert("P2"))
	s.Require().ErrorIs(insert("P3"), sentinel.ErrConflict)

	prior, err := s.store.GetSubject(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, prior.Status)

	next, err := s.store.GetSubject(s.ctx, "P2")
	s.Require().NoError(err)
	s.Equal("P1", next.PriorID)
}

func (s *Suite) TestOutboxClaimAndPublish() {
	for i := range 3 {
		s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
			return tx.EnqueueOutbox(s.ctx, &models.OutboxEntry{
				Topic: "moderation.decisions", Key: fmt.Sprintf("S%d", i),
				Payload: []byte(`{}`), CreatedAt: baseTime,
			})
		}))
	}

	var claimed []*models.OutboxEntry
	s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		var err error
		claimed, err = tx.ClaimOutbox(s.ctx, 2)
		if err != nil {
			return err
		}
		ids := make([]int64, len(claimed))
		for i, e := range claimed {
			ids[i] = e.ID
		}
		return tx.MarkOutboxPublished(s.ctx, ids, baseTime.Add(time.Minute))
	}))
	s.Require().Len(claimed, 2)
	s.Equal("S0", claimed[0].Key)
	s.Equal("S1", claimed[1].Key)

	var rest []*models.OutboxEntry
	s.Require().NoError(s.store.RunInTx(s.ctx, func(_ context.Context, tx ports.Tx) error {
		var err error
		rest, err = tx.ClaimOutbox(s.ctx, 10)
		return err
	}))
	s.Require().Len(rest, 1)
	s.Equal("S2", rest[0].Key)
}
