package auth

import (
	"context"
	"strings"

	"tenant_schema_guard/internal/rbac"
)

type User struct {
	Email     string
	Name      string
	Role      rbac.Role
	CSRFToken string
}

type contextKey string

const userKey contextKey = "driftguard-user"

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	val := ctx.Value(userKey)
	if val == nil {
		return nil, false
	}
	user, ok := val.(*User)
	return user, ok
}

// RoleMapper assigns roles from configured email lists. Anyone else who
// passed login is an auditor.
type RoleMapper struct {
	admins    map[string]struct{}
	operators map[string]struct{}
}

func NewRoleMapper(admins, operators []string) *RoleMapper {
	m := &RoleMapper{admins: map[string]struct{}{}, operators: map[string]struct{}{}}
	for _, e := range admins {
		m.admins[normalizeEmail(e)] = struct{}{}
	}
	for _, e := range operators {
		m.operators[normalizeEmail(e)] = struct{}{}
	}
	return m
}

func (m *RoleMapper) Resolve(email string) rbac.Role {
	e := normalizeEmail(email)
	if _, ok := m.admins[e]; ok {
		return rbac.RoleAdmin
	}
	if _, ok := m.operators[e]; ok {
		return rbac.RoleOperator
	}
	return rbac.RoleAuditor
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
