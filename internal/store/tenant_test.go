package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	in := CreateTenantInput{Name: "  school-a ", Host: " db ", DBName: "school", Username: "app"}
	require.NoError(t, in.Normalize("public", "app_user"))

	assert.Equal(t, "school-a", in.Name)
	assert.Equal(t, "db", in.Host)
	assert.Equal(t, 5432, in.Port)
	assert.Equal(t, "prefer", in.SSLMode)
	assert.Equal(t, "public", in.Namespace)
	assert.Equal(t, "app_user", in.AppRole)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	in := CreateTenantInput{Name: "b", Host: "h", DBName: "d", Username: "u", Port: 6432, SSLMode: "require", Namespace: "tenant_b", AppRole: "owner"}
	require.NoError(t, in.Normalize("public", "app_user"))
	assert.Equal(t, 6432, in.Port)
	assert.Equal(t, "require", in.SSLMode)
	assert.Equal(t, "tenant_b", in.Namespace)
	assert.Equal(t, "owner", in.AppRole)
}

func TestNormalizeRejectsInvalidInput(t *testing.T) {
	valid := func() CreateTenantInput {
		return CreateTenantInput{Name: "a", Host: "h", DBName: "d", Username: "u"}
	}
	cases := map[string]func(*CreateTenantInput){
		"missing name":     func(in *CreateTenantInput) { in.Name = " " },
		"missing host":     func(in *CreateTenantInput) { in.Host = "" },
		"missing dbname":   func(in *CreateTenantInput) { in.DBName = "" },
		"missing username": func(in *CreateTenantInput) { in.Username = "" },
		"bad port":         func(in *CreateTenantInput) { in.Port = 70000 },
		"bad sslmode":      func(in *CreateTenantInput) { in.SSLMode = "sometimes" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid()
			mutate(&in)
			assert.ErrorIs(t, in.Normalize("public", ""), ErrTenantInvalid)
		})
	}

	in := valid()
	assert.ErrorIs(t, in.Normalize("", ""), ErrTenantInvalid, "namespace has no default")
}

func TestTargetOf(t *testing.T) {
	tenant := &Tenant{ID: uuid.New(), Host: "h", Port: 5433, DBName: "d", Username: "u", SSLMode: "disable", Namespace: "tenant_a"}
	target := TargetOf(tenant, "secret")
	assert.Equal(t, "h", target.Host)
	assert.Equal(t, 5433, target.Port)
	assert.Equal(t, "d", target.Database)
	assert.Equal(t, "u", target.Username)
	assert.Equal(t, "secret", target.Password)
	assert.Equal(t, "disable", target.SSLMode)
	assert.Equal(t, "tenant_a", target.Namespace)
}
