package rbac

import "strings"

type Role string

const (
	RoleAuditor  Role = "auditor"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var rank = map[Role]int{
	RoleAuditor:  1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// Parse returns the role named by s, or false for unknown names.
func Parse(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := rank[r]
	return r, ok
}

// AtLeast reports whether user holds min or a stronger role. Unknown roles
// hold nothing.
func AtLeast(user, min Role) bool {
	have, ok := rank[user]
	return ok && have >= rank[min]
}

func Allows(user Role, allowed ...Role) bool {
	for _, role := range allowed {
		if user == role {
			return true
		}
	}
	return false
}
