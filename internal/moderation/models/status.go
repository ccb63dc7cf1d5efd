package models

import (
	"strings"

	dErrors "moderation/pkg/domain-errors"
)

// Status is the workflow state of a subject.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// IsTerminal reports whether no edge leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) String() string { return string(s) }

// CanTransitionTo reports whether from→to is a legal edge. The only legal
// edges are pending→approved and pending→rejected.
func (s Status) CanTransitionTo(to Status) bool {
	return s == StatusPending && to.IsTerminal()
}

// ParseStatus normalizes and validates a status from transport input.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown status: "+v)
	}
	return s, nil
}
