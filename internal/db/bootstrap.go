package db

import (
	"fmt"
	"strings"

	"tenant_schema_guard/internal/schema"
)

// Prerequisites are the objects that must exist before a tenant can be
// introspected and migrated by the application role.
type Prerequisites struct {
	Role      string
	Namespace string
}

// BootstrapRequired is a non-error signal carrying the one-time manual SQL
// that creates missing prerequisites.
type BootstrapRequired struct {
	Missing []string `json:"missing"`
	SQL     string   `json:"bootstrap_sql"`
	Hint    string   `json:"hint"`
}

const bootstrapHint = "run bootstrap_sql once as a superuser on the tenant database, then request a new plan"

// DetectBootstrap returns nil when every prerequisite exists.
func DetectBootstrap(p Prerequisites, status PrerequisiteStatus) *BootstrapRequired {
	var missing []string
	if p.Role != "" && !status.RoleExists {
		missing = append(missing, "role:"+p.Role)
	}
	if !status.NamespaceExists {
		missing = append(missing, "namespace:"+p.Namespace)
	}
	if len(missing) == 0 {
		return nil
	}
	return &BootstrapRequired{Missing: missing, SQL: BootstrapSQL(p), Hint: bootstrapHint}
}

// BootstrapSQL renders an idempotent script creating the role and namespace.
func BootstrapSQL(p Prerequisites) string {
	ns := schema.QuoteIdent(p.Namespace)
	var b strings.Builder
	if p.Role == "" {
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", ns)
		return b.String()
	}
	role := schema.QuoteIdent(p.Role)
	fmt.Fprintf(&b, "DO $$\nBEGIN\n  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = %s) THEN\n    CREATE ROLE %s NOLOGIN;\n  END IF;\nEND\n$$;\n", quoteLiteral(p.Role), role)
	fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s AUTHORIZATION %s;\n", ns, role)
	fmt.Fprintf(&b, "GRANT USAGE, CREATE ON SCHEMA %s TO %s;\n", ns, role)
	return b.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
