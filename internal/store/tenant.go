package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/secret"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantInactive = errors.New("tenant is disabled")
	ErrTenantInvalid  = errors.New("invalid tenant")
)

type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	DBName    string    `json:"dbname"`
	Username  string    `json:"username"`
	SSLMode   string    `json:"sslmode"`
	Namespace string    `json:"namespace"`
	AppRole   string    `json:"app_role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateTenantInput struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	DBName    string `json:"dbname"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SSLMode   string `json:"sslmode"`
	Namespace string `json:"namespace"`
	AppRole   string `json:"app_role"`
}

// Normalize trims the input, applies defaults and validates it.
func (in *CreateTenantInput) Normalize(defaultNamespace, defaultRole string) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Host = strings.TrimSpace(in.Host)
	in.DBName = strings.TrimSpace(in.DBName)
	in.Username = strings.TrimSpace(in.Username)
	in.Namespace = strings.TrimSpace(in.Namespace)
	in.AppRole = strings.TrimSpace(in.AppRole)
	if in.Namespace == "" {
		in.Namespace = defaultNamespace
	}
	if in.AppRole == "" {
		in.AppRole = defaultRole
	}
	if in.SSLMode == "" {
		in.SSLMode = "prefer"
	}
	if in.Port == 0 {
		in.Port = 5432
	}
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name required", ErrTenantInvalid)
	case in.Host == "" || in.DBName == "" || in.Username == "":
		return fmt.Errorf("%w: host, dbname, username required", ErrTenantInvalid)
	case in.Port < 0 || in.Port > 65535:
		return fmt.Errorf("%w: port out of range", ErrTenantInvalid)
	case in.Namespace == "":
		return fmt.Errorf("%w: namespace required", ErrTenantInvalid)
	}
	switch in.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown sslmode %q", ErrTenantInvalid, in.SSLMode)
	}
	return nil
}

func (s *Store) CreateTenant(ctx context.Context, input CreateTenantInput) (*Tenant, error) {
	id := uuid.New()
	encPwd, err := secret.Seal(s.key, []byte(input.Password), id[:])
	if err != nil {
		return nil, err
	}
	t := &Tenant{
		ID:        id,
		Name:      input.Name,
		Host:      input.Host,
		Port:      input.Port,
		DBName:    input.DBName,
		Username:  input.Username,
		SSLMode:   input.SSLMode,
		Namespace: input.Namespace,
		AppRole:   input.AppRole,
		IsActive:  true,
	}
	err = s.pool.QueryRow(ctx, `
INSERT INTO tenants (id, name, host, port, dbname, username, password_enc, sslmode, namespace, app_role)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at`,
		t.ID, t.Name, t.Host, t.Port, t.DBName, t.Username, encPwd, t.SSLMode, t.Namespace, t.AppRole).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	return t, nil
}

const tenantColumns = `id, name, host, port, dbname, username, sslmode, namespace, app_role, is_active, created_at`

func scanTenant(row pgx.Row, extra ...any) (*Tenant, error) {
	var t Tenant
	dest := append([]any{&t.ID, &t.Name, &t.Host, &t.Port, &t.DBName, &t.Username, &t.SSLMode, &t.Namespace, &t.AppRole, &t.IsActive, &t.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTenants(ctx context.Context, activeOnly bool) ([]Tenant, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+tenantColumns+`
FROM tenants
WHERE is_active OR NOT $1
ORDER BY name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	out := []Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	return t, err
}

func (s *Store) DisableTenant(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `UPDATE tenants SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// Target resolves an active tenant into connection details with the
// decrypted password.
func (s *Store) Target(ctx context.Context, id uuid.UUID) (db.Target, *Tenant, error) {
	var encPwd []byte
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+`, password_enc FROM tenants WHERE id = $1`, id), &encPwd)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Target{}, nil, ErrTenantNotFound
	}
	if err != nil {
		return db.Target{}, nil, err
	}
	if !t.IsActive {
		return db.Target{}, t, ErrTenantInactive
	}
	password, err := secret.Open(s.key, encPwd, t.ID[:])
	if err != nil {
		return db.Target{}, t, fmt.Errorf("decrypt password: %w", err)
	}
	return TargetOf(t, string(password)), t, nil
}

// TargetOf builds connection details for a tenant.
func TargetOf(t *Tenant, password string) db.Target {
	return db.Target{
		Host:      t.Host,
		Port:      t.Port,
		Database:  t.DBName,
		Username:  t.Username,
		Password:  password,
		SSLMode:   t.SSLMode,
		Namespace: t.Namespace,
	}
}
