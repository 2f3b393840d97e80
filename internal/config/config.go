package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "DRIFTGUARD"

type Config struct {
	HTTPAddress    string
	DatabaseURL    string
	DBMaxConns     int32
	SecretKey      string
	SecretKeyBytes []byte
	LogLevel       string
	LogFormat      string
	Telemetry      bool
	ConnectTimeout time.Duration
	DevAuth        bool
	Reference      ReferenceConfig
	Bootstrap      BootstrapConfig
	OIDC           OIDCConfig
}

// ReferenceConfig locates the canonical schema document.
type ReferenceConfig struct {
	SchemaPath  string
	Version     string
	CuratedPath string
}

// BootstrapConfig holds the defaults used when a tenant is registered
// without its own role or namespace.
type BootstrapConfig struct {
	Role      string
	Namespace string
}

type OIDCConfig struct {
	Issuer         string
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AllowedDomains []string
	AdminEmails    []string
	OperatorEmails []string
}

var defaults = map[string]any{
	"http.addr":            ":8080",
	"db.dsn":               "",
	"db.max_conns":         10,
	"secret_key":           "",
	"log.level":            "info",
	"log.format":           "json",
	"telemetry.enabled":    false,
	"connect_timeout":      "20s",
	"dev_auth":             false,
	"reference.path":       "",
	"reference.version":    "",
	"reference.curated":    "",
	"bootstrap.role":       "app_user",
	"bootstrap.namespace":  "public",
	"oidc.issuer":          "https://accounts.google.com",
	"oidc.client_id":       "",
	"oidc.client_secret":   "",
	"oidc.redirect_url":    "",
	"oidc.allowed_domains": "",
	"oidc.admin_emails":    "",
	"oidc.operator_emails": "",
}

// New returns a viper instance bound to DRIFTGUARD_* variables. Nested keys
// map to env names with dots replaced by underscores, e.g. db.dsn is
// DRIFTGUARD_DB_DSN. DRIFTGUARD_CONFIG names an optional YAML file.
func New() (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads the configuration and checks the settings every command needs.
func Load() (Config, error) {
	v, err := New()
	if err != nil {
		return Config{}, err
	}
	cfg, err := FromViper(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddress: v.GetString("http.addr"),
		DatabaseURL: v.GetString("db.dsn"),
		DBMaxConns:  v.GetInt32("db.max_conns"),
		SecretKey:   v.GetString("secret_key"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
		Telemetry:   v.GetBool("telemetry.enabled"),
		DevAuth:     v.GetBool("dev_auth"),
		Reference: ReferenceConfig{
			SchemaPath:  v.GetString("reference.path"),
			Version:     v.GetString("reference.version"),
			CuratedPath: v.GetString("reference.curated"),
		},
		Bootstrap: BootstrapConfig{
			Role:      v.GetString("bootstrap.role"),
			Namespace: v.GetString("bootstrap.namespace"),
		},
		OIDC: OIDCConfig{
			Issuer:         v.GetString("oidc.issuer"),
			ClientID:       v.GetString("oidc.client_id"),
			ClientSecret:   v.GetString("oidc.client_secret"),
			RedirectURL:    v.GetString("oidc.redirect_url"),
			AllowedDomains: stringList(v, "oidc.allowed_domains"),
			AdminEmails:    stringList(v, "oidc.admin_emails"),
			OperatorEmails: stringList(v, "oidc.operator_emails"),
		},
	}

	timeout, err := time.ParseDuration(v.GetString("connect_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("%s_CONNECT_TIMEOUT: %w", EnvPrefix, err)
	}
	cfg.ConnectTimeout = timeout

	if cfg.SecretKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(cfg.SecretKey)
		if err != nil {
			return Config{}, errors.New(EnvPrefix + "_SECRET_KEY must be base64")
		}
		cfg.SecretKeyBytes = keyBytes
	}
	return cfg, nil
}

// Validate checks the settings shared by the CLI and the server.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New(EnvPrefix + "_DB_DSN is required")
	}
	if c.SecretKey == "" || len(c.SecretKeyBytes) != 32 {
		return errors.New(EnvPrefix + "_SECRET_KEY is required (base64, 32 bytes)")
	}
	if c.Reference.SchemaPath == "" {
		return errors.New(EnvPrefix + "_REFERENCE_PATH is required")
	}
	if c.Reference.Version == "" {
		return errors.New(EnvPrefix + "_REFERENCE_VERSION is required")
	}
	if c.Bootstrap.Namespace == "" {
		return errors.New(EnvPrefix + "_BOOTSTRAP_NAMESPACE must not be empty")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%s_LOG_FORMAT must be json or text, got %q", EnvPrefix, c.LogFormat)
	}
	return nil
}

// ValidateServer adds the login settings the HTTP server needs. Dev auth
// replaces OIDC entirely.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DevAuth {
		return nil
	}
	if c.OIDC.ClientID == "" {
		return errors.New(EnvPrefix + "_OIDC_CLIENT_ID is required")
	}
	if c.OIDC.ClientSecret == "" {
		return errors.New(EnvPrefix + "_OIDC_CLIENT_SECRET is required")
	}
	if c.OIDC.RedirectURL == "" {
		return errors.New(EnvPrefix + "_OIDC_REDIRECT_URL is required")
	}
	if len(c.OIDC.AdminEmails) == 0 {
		return errors.New(EnvPrefix + "_OIDC_ADMIN_EMAILS needs at least one address")
	}
	return nil
}

// WriteTemplate writes a YAML file holding every key with its default.
func WriteTemplate(path string) error {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigType("yaml")
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	return nil
}

// stringList accepts a YAML list or a comma-separated string.
func stringList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return splitAndTrim(s)
	}
	return v.GetStringSlice(key)
}

func splitAndTrim(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
