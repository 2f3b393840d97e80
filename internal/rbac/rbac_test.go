package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtLeast(t *testing.T) {
	cases := []struct {
		user, min Role
		want      bool
	}{
		{RoleAdmin, RoleOperator, true},
		{RoleOperator, RoleOperator, true},
		{RoleAuditor, RoleOperator, false},
		{RoleOperator, RoleAdmin, false},
		{Role("root"), RoleAuditor, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AtLeast(tc.user, tc.min), "%s >= %s", tc.user, tc.min)
	}
}

func TestParse(t *testing.T) {
	r, ok := Parse(" Operator ")
	assert.True(t, ok)
	assert.Equal(t, RoleOperator, r)
	_, ok = Parse("manager")
	assert.False(t, ok)
	assert.True(t, Allows(RoleAdmin, RoleAuditor, RoleAdmin))
}
