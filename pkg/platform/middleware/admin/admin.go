package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	request "moderation/pkg/platform/middleware/request"
	"moderation/pkg/requestcontext"
)

// HeaderServiceToken carries the intake service credential.
const HeaderServiceToken = "X-Service-Token"

// HeaderActorID names the submitter on whose behalf an intake call is made.
const HeaderActorID = "X-Actor-ID"

// RequireServiceToken guards machine-to-machine intake routes. The token is
// compared against a bcrypt hash so the plaintext never sits in config.
// An empty hash rejects every request.
func RequireServiceToken(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	hash := []byte(tokenHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(HeaderServiceToken)
			if len(hash) == 0 || token == "" || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
				logger.WarnContext(ctx, "service token mismatch",
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated","error_description":"service token required"}`))
				return
			}

			if actor := strings.TrimSpace(r.Header.Get(HeaderActorID)); actor != "" {
				ctx = requestcontext.WithActorID(ctx, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
