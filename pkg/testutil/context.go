package testutil

import (
	"net/http"

	"moderation/pkg/requestcontext"
)

// WithActor adds an actor id to the request context.
// This simulates what the auth middleware does for authenticated requests.
// An empty actorID leaves the request unchanged.
func WithActor(req *http.Request, actorID string) *http.Request {
	if actorID == "" {
		return req
	}
	return req.WithContext(requestcontext.WithActorID(req.Context(), actorID))
}
