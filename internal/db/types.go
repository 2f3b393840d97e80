package db

import (
	"fmt"
	"net/url"
)

// Target describes how to reach one tenant database.
type Target struct {
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	SSLMode   string
	Namespace string
}

// DSN renders a PostgreSQL URL for the target.
func (t Target) DSN() string {
	sslMode := t.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(t.Username, t.Password),
		Host:     fmt.Sprintf("%s:%d", t.Host, t.Port),
		Path:     "/" + t.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// Rows is a bounded, JSON-friendly query result.
type Rows struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// PrerequisiteStatus reports which bootstrap objects exist.
type PrerequisiteStatus struct {
	RoleExists      bool
	NamespaceExists bool
}
