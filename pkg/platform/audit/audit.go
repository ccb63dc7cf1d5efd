// Package audit writes decision audit lines to the structured log.
//
// The transition records in the store are the authoritative audit trail. These
// log lines carry the same facts to log pipelines, tagged log_type=audit so they
// can be routed apart from operational logs.
package audit

import (
	"context"
	"log/slog"

	"moderation/pkg/attrs"
	"moderation/pkg/requestcontext"
)

// Event is the summary extracted from an audit line.
type Event struct {
	Action    string
	Subject   string
	ActorID   string
	Reason    string
	RequestID string
}

// LogAudit logs event with attrList and returns the extracted summary.
// The request id and actor id are taken from ctx when attrList omits them.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrList ...any) Event {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" && attrs.ExtractString(attrList, "request_id") == "" {
		attrList = append(attrList, "request_id", requestID)
	}
	actorID := attrs.ExtractString(attrList, "actor_id")
	if actorID == "" {
		if actorID = requestcontext.ActorID(ctx); actorID != "" {
			attrList = append(attrList, "actor_id", actorID)
		}
	}

	args := append(attrList, "event", event, "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, event, args...)
	}

	return Event{
		Action:    event,
		Subject:   attrs.FirstString(attrList, "subject_id", "operation_id", "prior_id"),
		ActorID:   actorID,
		Reason:    attrs.ExtractString(attrList, "reason"),
		RequestID: requestID,
	}
}
