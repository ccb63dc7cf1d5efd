package models

// Outcome is the non-error result of a transition attempt.
type Outcome string

const (
	OutcomeCommitted        Outcome = "committed"
	OutcomeAlreadyFinalized Outcome = "already_finalized"
)

// TransitionResult is returned by the engine for every attempt that is not an error.
// Record and Notification are nil unless Outcome is committed.
type TransitionResult struct {
	Outcome      Outcome           `json:"outcome"`
	Subject      *Subject          `json:"subject"`
	Record       *TransitionRecord `json:"transition,omitempty"`
	Notification *Notification     `json:"-"`
}

// BulkFailure is one id that did not transition. ErrorKind is a wire error code.
type BulkFailure struct {
	ID        string `json:"id"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// BulkResult reports every requested id in exactly one of Succeeded or Failed,
// both in input order.
type BulkResult struct {
	OperationID   string        `json:"operation_id"`
	DesiredStatus Status        `json:"desired_status"`
	Succeeded     []string      `json:"succeeded"`
	Failed        []BulkFailure `json:"failed"`
}
