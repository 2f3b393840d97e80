package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"tenant_schema_guard/internal/rbac"
)

var ErrUnauthorized = errors.New("unauthorized")

type Authenticator interface {
	Authenticate(r *http.Request) (*User, error)
}

const (
	DevEmailHeader = "X-Driftguard-Email"
	DevRoleHeader  = "X-Driftguard-Role"
)

// DevHeaderAuthenticator is a development-only authenticator that trusts headers.
// Its CSRF tokens are keyed per process, so a client reads its token from
// /api/v1/me before writing.
type DevHeaderAuthenticator struct {
	enabled bool
	key     []byte
}

func NewDevHeaderAuthenticator(enabled bool) *DevHeaderAuthenticator {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &DevHeaderAuthenticator{enabled: enabled, key: key}
}

// TokenFor returns the CSRF token issued to a header identity.
func (a *DevHeaderAuthenticator) TokenFor(email string, role rbac.Role) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(strings.ToLower(email) + "\x00" + string(role)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *DevHeaderAuthenticator) Authenticate(r *http.Request) (*User, error) {
	if !a.enabled {
		return nil, ErrUnauthorized
	}
	email := strings.TrimSpace(r.Header.Get(DevEmailHeader))
	role, ok := rbac.Parse(r.Header.Get(DevRoleHeader))
	if email == "" || !ok {
		return nil, ErrUnauthorized
	}
	return &User{Email: email, Role: role, CSRFToken: a.TokenFor(email, role)}, nil
}
