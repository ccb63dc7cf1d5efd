package service

import (
	"context"
	"errors"

	"moderation/internal/moderation/models"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/sentinel"
)

func (s *Service) GetSubject(ctx context.Context, actorID, id string) (*models.Subject, error) {
	if err := s.authorize(ctx, actorID, ActionViewQueue); err != nil {
		return nil, err
	}
	subj, err := s.store.GetSubject(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	return subj, nil
}

// ListSubjects returns one page of the review queue, oldest submission first.
func (s *Service) ListSubjects(ctx context.Context, actorID string, filter models.SubjectFilter) (*models.SubjectPage, error) {
	if err := s.authorize(ctx, actorID, ActionViewQueue); err != nil {
		return nil, err
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown subject kind: "+string(filter.Kind))
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status: "+string(filter.Status))
	}
	filter.Normalize()

	subjects, total, err := s.store.ListSubjects(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subjects")
	}
	return &models.SubjectPage{Subjects: subjects, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// History returns the subject's transition records in commit order.
func (s *Service) History(ctx context.Context, actorID, subjectID string) ([]*models.TransitionRecord, error) {
	if _, err := s.GetSubject(ctx, actorID, subjectID); err != nil {
		return nil, err
	}
	recs, err := s.store.ListTransitions(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transitions")
	}
	return recs, nil
}

func (s *Service) Counters(ctx context.Context, actorID string) ([]models.Counters, error) {
	if err := s.authorize(ctx, actorID, ActionViewQueue); err != nil {
		return nil, err
	}
	return s.aggregator.Counters(ctx)
}

func (s *Service) Reconcile(ctx context.Context, actorID string) (*models.ReconcileReport, error) {
	if err := s.authorize(ctx, actorID, ActionReconcile); err != nil {
		return nil, err
	}
	return s.aggregator.Reconcile(ctx)
}

// Notifications lists the calling actor's own notifications.
func (s *Service) Notifications(ctx context.Context, actorID string, q models.NotificationQuery) ([]*models.Notification, error) {
	q.Normalize()
	return s.dispatcher.List(ctx, actorID, q)
}

func (s *Service) UnreadCount(ctx context.Context, actorID string) (int, error) {
	return s.dispatcher.UnreadCount(ctx, actorID)
}

func (s *Service) MarkRead(ctx context.Context, actorID, notificationID string) (*models.Notification, error) {
	return s.dispatcher.MarkRead(ctx, actorID, notificationID)
}

func (s *Service) MarkAllRead(ctx context.Context, actorID string) (int, error) {
	return s.dispatcher.MarkAllRead(ctx, actorID)
}
