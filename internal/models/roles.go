package models

// Roles carried in access tokens.
const (
	RoleAdmin     = "admin"
	RoleProctor   = "proctor"
	RoleCandidate = "candidate"
)

var allowedRoles = map[string]struct{}{
	RoleAdmin:     {},
	RoleProctor:   {},
	RoleCandidate: {},
}

func IsValidRole(role string) bool {
	_, ok := allowedRoles[role]
	return ok
}
