package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"tenant_schema_guard/internal/config"
)

type OIDCProvider struct {
	oauthConfig    *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains map[string]struct{}
}

type IDTokenClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
	HostedDomain  string `json:"hd"`
	Nonce         string `json:"nonce"`
}

// NewOIDCProvider discovers the issuer and prepares the code flow used for
// operator login.
func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("create oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	allowed := make(map[string]struct{})
	for _, d := range cfg.AllowedDomains {
		allowed[strings.ToLower(d)] = struct{}{}
	}

	return &OIDCProvider{
		oauthConfig:    oauthCfg,
		verifier:       verifier,
		allowedDomains: allowed,
	}, nil
}

func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauthConfig.AuthCodeURL(state, oidc.Nonce(nonce))
}

func (p *OIDCProvider) Exchange(ctx context.Context, code string, expectedNonce string) (*IDTokenClaims, error) {
	oauth2Token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims IDTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return nil, fmt.Errorf("nonce mismatch")
	}

	if !claims.EmailVerified {
		return nil, fmt.Errorf("email not verified")
	}
	if !p.DomainAllowed(claims.Email) {
		return nil, fmt.Errorf("email domain not allowed")
	}

	return &claims, nil
}

// DomainAllowed reports whether email belongs to an allowed domain. An empty
// allow list admits every domain.
func (p *OIDCProvider) DomainAllowed(email string) bool {
	if len(p.allowedDomains) == 0 {
		return true
	}
	_, ok := p.allowedDomains[emailDomain(email)]
	return ok
}

func emailDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}
