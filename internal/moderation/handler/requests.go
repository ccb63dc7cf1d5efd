package handler

import (
	"strings"

	"moderation/internal/moderation/models"
	dErrors "moderation/pkg/domain-errors"
)

// DecisionRequest carries either subject_id or subject_ids, never both.
type DecisionRequest struct {
	SubjectKind   string   `json:"subject_kind"`
	SubjectID     string   `json:"subject_id,omitempty"`
	SubjectIDs    []string `json:"subject_ids,omitempty"`
	DesiredStatus string   `json:"desired_status"`
	Reason        string   `json:"reason,omitempty"`
}

func (r *DecisionRequest) Normalize() {
	r.SubjectKind = strings.ToLower(strings.TrimSpace(r.SubjectKind))
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.DesiredStatus = strings.ToLower(strings.TrimSpace(r.DesiredStatus))
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *DecisionRequest) Validate() error {
	if r.SubjectKind == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_kind is required")
	}
	if _, err := models.ParseKind(r.SubjectKind); err != nil {
		return err
	}
	if r.DesiredStatus == "" {
		return dErrors.New(dErrors.CodeValidation, "desired_status is required")
	}
	if _, err := models.ParseStatus(r.DesiredStatus); err != nil {
		return err
	}
	if r.SubjectID != "" && len(r.SubjectIDs) > 0 {
		return dErrors.New(dErrors.CodeValidation, "use subject_id or subject_ids, not both")
	}
	if r.SubjectID == "" && len(r.SubjectIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "subject_id or subject_ids is required")
	}
	return nil
}

// IDs returns the requested ids in request order.
func (r *DecisionRequest) IDs() []string {
	if r.SubjectID != "" {
		return []string{r.SubjectID}
	}
	return r.SubjectIDs
}

type SubmitRequest struct {
	ID         string `json:"id,omitempty"`
	Kind       string `json:"kind"`
	OwnerID    string `json:"owner_id"`
	PayloadRef string `json:"payload_ref"`
}

func (r *SubmitRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.PayloadRef = strings.TrimSpace(r.PayloadRef)
}

func (r *SubmitRequest) Validate() error {
	if _, err := models.ParseKind(r.Kind); err != nil {
		return err
	}
	if r.OwnerID == "" {
		return dErrors.New(dErrors.CodeValidation, "owner_id is required")
	}
	if r.PayloadRef == "" {
		return dErrors.New(dErrors.CodeValidation, "payload_ref is required")
	}
	return nil
}

type ResubmitRequest struct {
	ID         string `json:"id,omitempty"`
	OwnerID    string `json:"owner_id"`
	PayloadRef string `json:"payload_ref"`
}

func (r *ResubmitRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.PayloadRef = strings.TrimSpace(r.PayloadRef)
}

func (r *ResubmitRequest) Validate() error {
	if r.OwnerID == "" {
		return dErrors.New(dErrors.CodeValidation, "owner_id is required")
	}
	if r.PayloadRef == "" {
		return dErrors.New(dErrors.CodeValidation, "payload_ref is required")
	}
	return nil
}
