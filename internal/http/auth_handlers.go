package httpserver

import (
	"context"
	"net/http"

	"tenant_schema_guard/internal/audit"
	"tenant_schema_guard/internal/auth"
)

// oidcClient is the slice of auth.OIDCProvider the login flow uses.
type oidcClient interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, expectedNonce string) (*auth.IDTokenClaims, error)
}

type AuthHandler struct {
	logger   requestLogger
	oidc     oidcClient
	sessions *auth.SessionManager
	roles    *auth.RoleMapper
	audit    audit.Sink
}

func NewAuthHandler(logger requestLogger, oidcProvider oidcClient, sessions *auth.SessionManager, roles *auth.RoleMapper, sink audit.Sink) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		oidc:     oidcProvider,
		sessions: sessions,
		roles:    roles,
		audit:    sink,
	}
}

type oidcState struct {
	State string
	Nonce string
}

func (h *AuthHandler) OIDCStart(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		writeError(w, http.StatusNotFound, "oidc_disabled", "single sign-on is not configured")
		return
	}
	state, err := auth.RandomToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "oidc_state_error", "failed to generate state")
		return
	}
	nonce, err := auth.RandomToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "oidc_nonce_error", "failed to generate nonce")
		return
	}

	encoded, err := h.sessions.Encode(auth.OIDCStateCookieName, oidcState{State: state, Nonce: nonce})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "oidc_state_error", "failed to persist state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.OIDCStateCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oidc.AuthCodeURL(state, nonce), http.StatusFound)
}

func (h *AuthHandler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		writeError(w, http.StatusNotFound, "oidc_disabled", "single sign-on is not configured")
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing state or code")
		return
	}

	cookie, err := r.Cookie(auth.OIDCStateCookieName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "state_missing", "missing login state")
		return
	}
	var saved oidcState
	if err := h.sessions.Decode(auth.OIDCStateCookieName, cookie.Value, &saved); err != nil {
		writeError(w, http.StatusBadRequest, "state_invalid", "invalid login state")
		return
	}
	if saved.State != state {
		writeError(w, http.StatusBadRequest, "state_mismatch", "state mismatch")
		return
	}

	claims, err := h.oidc.Exchange(r.Context(), code, saved.Nonce)
	if err != nil {
		h.logger.Error("oidc exchange failed", "error", err)
		writeError(w, http.StatusUnauthorized, "oidc_exchange_failed", "authentication failed")
		return
	}

	csrfToken, err := auth.RandomToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "csrf_error", "failed to issue session")
		return
	}
	if err := h.sessions.SetSession(w, auth.Session{
		Email:     claims.Email,
		Name:      claims.Name,
		CSRFToken: csrfToken,
	}); err != nil {
		h.logger.Error("set session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "session_error", "failed to create session")
		return
	}

	role := h.roles.Resolve(claims.Email)
	h.logger.Info("login_success", "email", claims.Email, "role", role)
	_ = h.audit.Record(r.Context(), audit.Event{
		Actor:      claims.Email,
		Action:     audit.ActionLogin,
		EntityType: "user",
		Payload:    map[string]any{"role": role},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"email":      claims.Email,
		"name":       claims.Name,
		"role":       role,
		"csrf_token": csrfToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	h.sessions.ClearSession(w)
	h.logger.Info("logout", "email", user.Email)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"email":      user.Email,
		"name":       user.Name,
		"role":       user.Role,
		"csrf_token": user.CSRFToken,
	})
}
