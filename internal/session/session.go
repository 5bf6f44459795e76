// Package session keeps the small amount of per-browser state the gateway
// needs between requests: the pending authorization of an in-flight login and
// the verified login identity.
//
// Handlers never touch raw keys. They load a *Session from the Store, use the
// typed State methods, and save it back before writing the response.
package session

import (
	"errors"

	"github.com/google/uuid"

	"github.com/fuomag9/vscode-farm/internal/models"
)

// ErrNotLoggedIn is returned by the login gate when the session carries no identity.
var ErrNotLoggedIn = errors.New("not logged in")

// State is the typed view of a session used by the login flow.
type State interface {
	// Pending returns the pending authorization, if one exists.
	Pending() (models.PendingAuthorization, bool)
	// SetPending replaces any pending authorization.
	SetPending(p models.PendingAuthorization)
	// ClearPending removes the pending authorization.
	ClearPending()
	// Identity returns the login identity, if the user is logged in.
	Identity() (models.LoginIdentity, bool)
	// SetIdentity replaces the login identity wholesale.
	SetIdentity(id models.LoginIdentity)
	// ClearIdentity logs the session out.
	ClearIdentity()
}

// Session is one browser session. It is not safe for concurrent use; each
// request loads its own copy.
type Session struct {
	id       string
	pending  *models.PendingAuthorization
	identity *models.LoginIdentity
}

var _ State = (*Session)(nil)

// New returns an empty session with a fresh id.
func New() *Session {
	return &Session{id: uuid.NewString()}
}

// ID identifies the session in logs. It carries no authority.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) Pending() (models.PendingAuthorization, bool) {
	if s.pending == nil {
		return models.PendingAuthorization{}, false
	}
	return *s.pending, true
}

func (s *Session) SetPending(p models.PendingAuthorization) {
	s.pending = &p
}

func (s *Session) ClearPending() {
	s.pending = nil
}

func (s *Session) Identity() (models.LoginIdentity, bool) {
	if s.identity == nil || s.identity.UserName == "" {
		return models.LoginIdentity{}, false
	}
	return *s.identity, true
}

func (s *Session) SetIdentity(id models.LoginIdentity) {
	s.identity = &id
}

func (s *Session) ClearIdentity() {
	s.identity = nil
}

// RequireIdentity is the login gate: it never falls back to an anonymous identity.
func (s *Session) RequireIdentity() (models.LoginIdentity, error) {
	id, ok := s.Identity()
	if !ok {
		return models.LoginIdentity{}, ErrNotLoggedIn
	}
	return id, nil
}

// TakePending returns the pending authorization and clears it in the same step,
// so a callback can never observe it twice.
func (s *Session) TakePending() (models.PendingAuthorization, bool) {
	p, ok := s.Pending()
	s.ClearPending()
	return p, ok
}

func (s *Session) empty() bool {
	return s.pending == nil && s.identity == nil
}
