package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/fuomag9/vscode-farm/internal/config"
	"github.com/fuomag9/vscode-farm/internal/models"
	"github.com/fuomag9/vscode-farm/internal/oauth"
	"github.com/fuomag9/vscode-farm/internal/session"
)

// Authenticator runs the two legs of the authorization code flow
type Authenticator interface {
	BuildAuthorizationRequest() (*oauth.AuthorizationRequest, error)
	ExchangeCode(ctx context.Context, code, returnedState, expectedCSRF, pkceVerifier string) (*models.UserProfile, error)
}

// Provisioner returns the URL of a user's running container
type Provisioner interface {
	Provision(ctx context.Context, id models.LoginIdentity) (string, error)
}

const genericErrorMessage = "Please contact admin"

// HandleLogin stores fresh CSRF and PKCE material in the session and sends
// the browser to the identity provider.
func HandleLogin(sessions *session.Store, auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessions.Load(r)

		req, err := auth.BuildAuthorizationRequest()
		if err != nil {
			internalError(w, r, err, "Failed to build authorization request")
			return
		}

		sess.SetPending(req.Pending())
		if err := sessions.Save(w, sess); err != nil {
			internalError(w, r, err, "Failed to save session")
			return
		}

		hlog.FromRequest(r).Debug().Str("session_id", sess.ID()).Msg("Redirecting to identity provider")
		http.Redirect(w, r, req.URL, http.StatusFound)
	}
}

// HandleCallback completes the login. The pending authorization and any
// previous identity are dropped before the state is compared, so a callback
// can never be replayed against the same pending material. A callback with
// no pending authorization leaves an existing login alone.
func HandleCallback(cfg *config.Config, sessions *session.Store, auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		sess := sessions.Load(r)

		pending, ok := sess.TakePending()
		if ok {
			sess.ClearIdentity()
		}

		q := r.URL.Query()
		profile, err := auth.ExchangeCode(r.Context(), q.Get("code"), q.Get("state"), pending.CSRFToken, pending.PKCEVerifier)
		if err == nil {
			sess.SetIdentity(profile.Identity())
		}

		if saveErr := sessions.Save(w, sess); saveErr != nil {
			internalError(w, r, saveErr, "Failed to save session")
			return
		}

		switch {
		case errors.Is(err, oauth.ErrMissingPendingState):
			logger.Warn().Str("session_id", sess.ID()).Msg("OAuth callback without pending authorization")
			http.Error(w, "Invalid OAuth callback", http.StatusBadRequest)
		case err != nil:
			logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("OAuth login failed")
			http.Redirect(w, r, cfg.SafeRedirect, http.StatusFound)
		default:
			logger.Info().
				Str("session_id", sess.ID()).
				Str("user_name", profile.UserName).
				Str("real_name", profile.RealName).
				Str("student_id", profile.StudentID).
				Msg("User logged in")
			http.Redirect(w, r, cfg.StartURL(), http.StatusFound)
		}
	}
}

// HandleStart sends a logged-in user to their container, provisioning it first
func HandleStart(p Provisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "Not logged in", http.StatusForbidden)
			return
		}

		target, err := p.Provision(r.Context(), id)
		if err != nil {
			internalError(w, r, err, "Failed to provision container")
			return
		}

		hlog.FromRequest(r).Info().Str("user_name", id.UserName).Msg("Redirecting to container")
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// internalError logs err and answers with a body that reveals nothing
func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	hlog.FromRequest(r).Error().Err(err).Msg(msg)
	http.Error(w, genericErrorMessage, http.StatusInternalServerError)
}
