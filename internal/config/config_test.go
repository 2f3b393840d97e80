package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

func setRequired(t *testing.T) {
	t.Setenv("DRIFTGUARD_DB_DSN", "postgres://control@localhost/driftguard")
	t.Setenv("DRIFTGUARD_SECRET_KEY", validKey())
	t.Setenv("DRIFTGUARD_REFERENCE_PATH", "schema/reference.sql")
	t.Setenv("DRIFTGUARD_REFERENCE_VERSION", "2026.03")
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("DRIFTGUARD_HTTP_ADDR", ":9090")
	t.Setenv("DRIFTGUARD_LOG_FORMAT", "text")
	t.Setenv("DRIFTGUARD_CONNECT_TIMEOUT", "5s")
	t.Setenv("DRIFTGUARD_OIDC_ADMIN_EMAILS", "a@example.com, b@example.com ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddress)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Len(t, cfg.SecretKeyBytes, 32)
	assert.Equal(t, "public", cfg.Bootstrap.Namespace)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.OIDC.AdminEmails)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
}

func TestLoadRejectsMissingSettings(t *testing.T) {
	cases := map[string]struct {
		unset string
		set   map[string]string
		want  string
	}{
		"dsn":        {unset: "DRIFTGUARD_DB_DSN", want: "DRIFTGUARD_DB_DSN"},
		"short key":  {set: map[string]string{"DRIFTGUARD_SECRET_KEY": base64.StdEncoding.EncodeToString([]byte("short"))}, want: "DRIFTGUARD_SECRET_KEY"},
		"bad base64": {set: map[string]string{"DRIFTGUARD_SECRET_KEY": "!!"}, want: "base64"},
		"reference":  {unset: "DRIFTGUARD_REFERENCE_PATH", want: "DRIFTGUARD_REFERENCE_PATH"},
		"log format": {set: map[string]string{"DRIFTGUARD_LOG_FORMAT": "xml"}, want: "DRIFTGUARD_LOG_FORMAT"},
		"timeout":    {set: map[string]string{"DRIFTGUARD_CONNECT_TIMEOUT": "soon"}, want: "CONNECT_TIMEOUT"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			if tc.unset != "" {
				t.Setenv(tc.unset, "")
			}
			for k, v := range tc.set {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateServerRequiresOIDCUnlessDevAuth(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.ErrorContains(t, cfg.ValidateServer(), "OIDC_CLIENT_ID")

	cfg.DevAuth = true
	require.NoError(t, cfg.ValidateServer())

	cfg.DevAuth = false
	cfg.OIDC = OIDCConfig{ClientID: "id", ClientSecret: "s", RedirectURL: "https://x/cb"}
	require.ErrorContains(t, cfg.ValidateServer(), "ADMIN_EMAILS")
	cfg.OIDC.AdminEmails = []string{"root@example.com"}
	require.NoError(t, cfg.ValidateServer())
}

func TestConfigFileAndTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driftguard.yaml")
	require.NoError(t, WriteTemplate(path))
	require.Error(t, WriteTemplate(path), "template must not overwrite")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bootstrap:")

	custom := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(custom, []byte(`
db:
  dsn: postgres://file@localhost/dg
secret_key: `+validKey()+`
reference:
  path: ref.sql
  version: v7
oidc:
  admin_emails: [root@example.com]
`), 0o600))
	t.Setenv("DRIFTGUARD_CONFIG", custom)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://file@localhost/dg", cfg.DatabaseURL)
	assert.Equal(t, "v7", cfg.Reference.Version)
	assert.Equal(t, []string{"root@example.com"}, cfg.OIDC.AdminEmails)
}
