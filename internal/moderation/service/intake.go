package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/audit"
	"moderation/pkg/platform/sentinel"
	"moderation/pkg/requestcontext"
)

// SubmitRequest creates a pending subject. ID is optional; owning subsystems
// may pass their own identifier.
type SubmitRequest struct {
	ID         string
	Kind       models.Kind
	OwnerID    string
	PayloadRef string
}

// ResubmitRequest creates a successor for a rejected subject.
type ResubmitRequest struct {
	ID         string
	PriorID    string
	OwnerID    string
	PayloadRef string
}

// Submit stores a new pending subject and counts it in the same transaction.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Subject, error) {
	if !req.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown subject kind: "+string(req.Kind))
	}
	subj, err := newSubject(ctx, req.ID, req.Kind, req.OwnerID, req.PayloadRef)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.InsertSubject(ctx, subj); err != nil {
			return err
		}
		return s.aggregator.Register(ctx, tx, subj.Kind)
	})
	if err != nil {
		return nil, translateInsert(err, "subject id already exists")
	}

	s.metrics.IncrementSubmission(string(subj.Kind), "new")
	audit.LogAudit(ctx, s.logger, "subject_submitted",
		"subject_id", subj.ID,
		"kind", string(subj.Kind),
		"actor_id", subj.OwnerID,
	)
	return subj, nil
}

// Resubmit links a new pending subject to a rejected prior one. The prior
// subject and its transitions are left untouched.
func (s *Service) Resubmit(ctx context.Context, req ResubmitRequest) (*models.Subject, error) {
	priorID := strings.TrimSpace(req.PriorID)
	if priorID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "prior subject id is required")
	}

	var created *models.Subject
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		prior, err := tx.GetSubject(ctx, priorID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "prior subject not found")
			}
			return err
		}
		if prior.OwnerID != strings.TrimSpace(req.OwnerID) {
			return dErrors.New(dErrors.CodeUnauthorized, "only the owner may resubmit")
		}
		if prior.Status != models.StatusRejected {
			return dErrors.New(dErrors.CodeInvalidStateTransition, "only rejected subjects can be resubmitted")
		}

		subj, err := newSubject(ctx, req.ID, prior.Kind, prior.OwnerID, req.PayloadRef)
		if err != nil {
			return err
		}
		subj.PriorID = prior.ID
		if err := tx.InsertSubject(ctx, subj); err != nil {
			return err
		}
		if err := s.aggregator.Register(ctx, tx, subj.Kind); err != nil {
			return err
		}
		created = subj
		return nil
	})
	if err != nil {
		return nil, translateInsert(err, "subject was already resubmitted")
	}

	s.metrics.IncrementSubmission(string(created.Kind), "resubmission")
	audit.LogAudit(ctx, s.logger, "subject_resubmitted",
		"subject_id", created.ID,
		"prior_id", created.PriorID,
		"kind", string(created.Kind),
		"actor_id", created.OwnerID,
	)
	return created, nil
}

func newSubject(ctx context.Context, id string, kind models.Kind, ownerID, payloadRef string) (*models.Subject, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "owner id is required")
	}
	payloadRef = strings.TrimSpace(payloadRef)
	if payloadRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "payload reference is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	return &models.Subject{
		ID:          id,
		Kind:        kind,
		Status:      models.StatusPending,
		OwnerID:     ownerID,
		PayloadRef:  payloadRef,
		SubmittedAt: requestcontext.Now(ctx),
	}, nil
}

func translateInsert(err error, conflictMsg string) error {
	if _, ok := dErrors.CodeOf(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, conflictMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store subject")
}
