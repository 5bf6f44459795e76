package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/fuomag9/vscode-farm/internal/models"
	"github.com/fuomag9/vscode-farm/internal/session"
)

type contextKey string

const identityContextKey contextKey = "identity"

// RequireLogin rejects requests whose session carries no login identity.
// The identity is handed to the next handler through the request context.
func RequireLogin(sessions *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := sessions.Load(r)

			id, err := sess.RequireIdentity()
			if err != nil {
				hlog.FromRequest(r).Info().Str("session_id", sess.ID()).Msg("Rejected request without login")
				http.Error(w, "Not logged in", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by RequireLogin
func IdentityFromContext(ctx context.Context) (models.LoginIdentity, bool) {
	id, ok := ctx.Value(identityContextKey).(models.LoginIdentity)
	return id, ok
}
