package auth

import (
	"errors"
	"net/http"
)

// SessionAuthenticator accepts a valid session cookie and maps its email to
// a role.
type SessionAuthenticator struct {
	sessions *SessionManager
	roles    *RoleMapper
}

func NewSessionAuthenticator(sessions *SessionManager, roles *RoleMapper) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions, roles: roles}
}

func (a *SessionAuthenticator) Authenticate(r *http.Request) (*User, error) {
	session, err := a.sessions.GetSession(r)
	if err != nil || session.Email == "" {
		return nil, ErrUnauthorized
	}
	return &User{
		Email:     session.Email,
		Name:      session.Name,
		Role:      a.roles.Resolve(session.Email),
		CSRFToken: session.CSRFToken,
	}, nil
}

type MultiAuthenticator struct {
	authenticators []Authenticator
}

func NewMultiAuthenticator(authenticators ...Authenticator) *MultiAuthenticator {
	return &MultiAuthenticator{authenticators: authenticators}
}

func (m *MultiAuthenticator) Authenticate(r *http.Request) (*User, error) {
	var lastErr error
	for _, a := range m.authenticators {
		user, err := a.Authenticate(r)
		if err == nil && user != nil {
			return user, nil
		}
		if err != nil && !errors.Is(err, ErrUnauthorized) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrUnauthorized
}

var (
	_ Authenticator = (*SessionAuthenticator)(nil)
	_ Authenticator = (*MultiAuthenticator)(nil)
	_ Authenticator = (*DevHeaderAuthenticator)(nil)
)
