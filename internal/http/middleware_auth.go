package httpserver

import (
	"errors"
	"net/http"

	"tenant_schema_guard/internal/auth"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/rbac"
)

type AuthMiddleware struct {
	authenticator auth.Authenticator
	logger        requestLogger
}

func NewAuthMiddleware(authenticator auth.Authenticator, logger requestLogger) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator, logger: logger}
}

// RequireAuth resolves the caller and tags the context with the actor
// recorded in schema history.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.authenticator.Authenticate(r)
		if err != nil && !errors.Is(err, auth.ErrUnauthorized) {
			m.logger.Error("auth error", "error", err)
		}
		if err != nil || user == nil {
			m.logDenied(nil, "unauthenticated", r)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		ctx := auth.WithUser(r.Context(), user)
		ctx = engine.WithActor(ctx, user.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits callers holding min or a stronger role.
func (m *AuthMiddleware) RequireRole(min rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !rbac.AtLeast(user.Role, min) {
				m.logDenied(user, "insufficient_role", r)
				writeError(w, http.StatusForbidden, "forbidden", "requires role "+string(min))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) logDenied(user *auth.User, reason string, r *http.Request) {
	email := ""
	if user != nil {
		email = user.Email
	}
	m.logger.Info("access_denied",
		"path", r.URL.Path,
		"method", r.Method,
		"reason", reason,
		"email", email,
	)
}
