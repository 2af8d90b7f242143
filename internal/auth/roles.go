package auth

import "strings"

// Role is the privilege a dashboard token carries.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleOperator: 1,
	RoleAdmin:    2,
}

// NormalizeRole lower-cases value and reports whether it names a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// Satisfies reports whether r grants at least the required role.
func (r Role) Satisfies(required Role) bool {
	rank, ok := roleRanks[r]
	return ok && rank >= roleRanks[required]
}
