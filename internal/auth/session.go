package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	SessionCookieName   = "driftguard_session"
	CSRFCookieName      = "driftguard_csrf"
	OIDCStateCookieName = "driftguard_oidc"

	sessionTTL = 12 * time.Hour
)

// Session is the signed and encrypted cookie payload. Roles are not stored;
// they are resolved on every request so a revoked admin loses access at once.
type Session struct {
	Email     string
	Name      string
	CSRFToken string
	IssuedAt  time.Time
}

type SessionManager struct {
	cookie *securecookie.SecureCookie
	now    func() time.Time
}

// NewSessionManager derives the hash and block keys from one 32-byte secret.
func NewSessionManager(secretKey []byte) *SessionManager {
	sc := securecookie.New(secretKey, secretKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &SessionManager{cookie: sc, now: time.Now}
}

func (s *SessionManager) SetSession(w http.ResponseWriter, session Session) error {
	if session.IssuedAt.IsZero() {
		session.IssuedAt = s.now().UTC()
	}
	encoded, err := s.cookie.Encode(SessionCookieName, session)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    session.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *SessionManager) ClearSession(w http.ResponseWriter) {
	expire := time.Now().Add(-time.Hour)
	for _, name := range []string{SessionCookieName, CSRFCookieName, OIDCStateCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  expire,
			MaxAge:   -1,
			HttpOnly: name != CSRFCookieName,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (s *SessionManager) GetSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := s.cookie.Decode(SessionCookieName, cookie.Value, &session); err != nil {
		return nil, err
	}
	if s.now().Sub(session.IssuedAt) > sessionTTL {
		return nil, errors.New("session expired")
	}
	return &session, nil
}

func (s *SessionManager) Encode(name string, value any) (string, error) {
	return s.cookie.Encode(name, value)
}

func (s *SessionManager) Decode(name, value string, dst any) error {
	return s.cookie.Decode(name, value, dst)
}

func RandomToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid token length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
