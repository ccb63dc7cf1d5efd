package models

import "time"

// TransitionRecord is the immutable audit entry for one committed state change.
type TransitionRecord struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	Kind        Kind      `json:"kind"`
	FromStatus  Status    `json:"from_status"`
	ToStatus    Status    `json:"to_status"`
	Reason      string    `json:"reason,omitempty"`
	ActorID     string    `json:"actor_id"`
	// CommittedAt is stamped inside the deciding transaction. Ordering across
	// subjects is carried by Notification.Sequence, not by this clock.
	CommittedAt time.Time `json:"committed_at"`
}

// Notification is a persisted decision event for the subject owner. Sequence
// is monotonic per recipient and follows commit order.
type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	SubjectID   string     `json:"subject_id"`
	Sequence    int64      `json:"sequence_no"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// NotificationQuery pages a recipient's notifications in ascending sequence order.
type NotificationQuery struct {
	UnreadOnly    bool
	AfterSequence int64
	Limit         int
}

func (q *NotificationQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.AfterSequence < 0 {
		q.AfterSequence = 0
	}
}

// Counters is the derived per-kind dashboard aggregate.
type Counters struct {
	Kind     Kind  `json:"kind"`
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
}

func (c Counters) Total() int64 {
	return c.Pending + c.Approved + c.Rejected
}

// Add applies delta to the bucket of status s.
func (c *Counters) Add(s Status, delta int64) {
	switch s {
	case StatusPending:
		c.Pending += delta
	case StatusApproved:
		c.Approved += delta
	case StatusRejected:
		c.Rejected += delta
	}
}

// KindDrift compares cached counters with a fresh count for one kind.
type KindDrift struct {
	Kind    Kind     `json:"kind"`
	Before  Counters `json:"before"`
	After   Counters `json:"after"`
	Drifted bool     `json:"drifted"`
}

// ReconcileReport is the outcome of one reconciliation pass.
type ReconcileReport struct {
	RanAt   time.Time   `json:"ran_at"`
	Kinds   []KindDrift `json:"kinds"`
	Drifted bool        `json:"drifted"`
}

// OutboxEntry is a decision event waiting to be relayed to the event bus.
type OutboxEntry struct {
	ID          int64
	Topic       string
	Key         string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// DecisionEvent is the payload relayed for every committed transition.
type DecisionEvent struct {
	TransitionID string    `json:"transition_id"`
	SubjectID    string    `json:"subject_id"`
	Kind         Kind      `json:"kind"`
	OwnerID      string    `json:"owner_id"`
	FromStatus   Status    `json:"from_status"`
	ToStatus     Status    `json:"to_status"`
	Reason       string    `json:"reason,omitempty"`
	ActorID      string    `json:"actor_id"`
	CommittedAt  time.Time `json:"committed_at"`
}
