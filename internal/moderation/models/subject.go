// Package models holds the moderation domain types shared by every subject kind.
package models

import (
	"strings"
	"time"

	dErrors "moderation/pkg/domain-errors"
)

// Kind identifies which subsystem owns the underlying submission.
type Kind string

const (
	KindUserRegistration Kind = "user_registration"
	KindVehicleListing   Kind = "vehicle_listing"
	KindBookingRequest   Kind = "booking_request"
	KindDocumentUpload   Kind = "document_upload"
)

// AllKinds lists every kind in display order. Counters carry one row per entry.
var AllKinds = []Kind{
	KindUserRegistration,
	KindVehicleListing,
	KindBookingRequest,
	KindDocumentUpload,
}

func (k Kind) IsValid() bool {
	switch k {
	case KindUserRegistration, KindVehicleListing, KindBookingRequest, KindDocumentUpload:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind normalizes and validates a kind from transport input.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown subject kind: "+s)
	}
	return k, nil
}

// Noun is the owner-facing name of the submission.
func (k Kind) Noun() string {
	switch k {
	case KindUserRegistration:
		return "account registration"
	case KindVehicleListing:
		return "vehicle listing"
	case KindBookingRequest:
		return "booking request"
	case KindDocumentUpload:
		return "document"
	}
	return "submission"
}

// Label maps a workflow status to the kind's display vocabulary. The engine
// only ever sees approved/rejected.
func (k Kind) Label(s Status) string {
	switch k {
	case KindBookingRequest:
		switch s {
		case StatusApproved:
			return "confirmed"
		case StatusRejected:
			return "declined"
		}
	case KindDocumentUpload:
		if s == StatusApproved {
			return "verified"
		}
	case KindUserRegistration:
		if s == StatusApproved {
			return "activated"
		}
	case KindVehicleListing:
		if s == StatusApproved {
			return "published"
		}
	}
	return string(s)
}

// DecideAction is the AccessGate action required to decide subjects of this kind.
func (k Kind) DecideAction() string {
	return "decide:" + string(k)
}

// Subject is one submission under review. It is created pending, mutated at
// most once into a terminal status, and never deleted.
type Subject struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	OwnerID     string     `json:"owner_id"`
	PayloadRef  string     `json:"payload_ref"`
	PriorID     string     `json:"prior_id,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	DecidedBy   string     `json:"decided_by,omitempty"`
}

// Clone returns a copy safe to hand out of a store.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	c := *s
	if s.DecidedAt != nil {
		t := *s.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// SubjectFilter selects a page of subjects. Zero values mean "any".
type SubjectFilter struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps paging to sane bounds.
func (f *SubjectFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether s passes the kind/status filter (paging ignored).
func (f SubjectFilter) Matches(s *Subject) bool {
	if f.Kind != "" && s.Kind != f.Kind {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

// SubjectPage is one page of a filtered subject list.
type SubjectPage struct {
	Subjects []*Subject `json:"subjects"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}
