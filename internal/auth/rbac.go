package auth

import "strings"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// NormalizeRole maps unknown values to the least privileged role.
func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(RoleSuperAdmin):
		return RoleSuperAdmin
	default:
		return RoleAdmin
	}
}

func ValidRole(role string) bool {
	return role == string(RoleAdmin) || role == string(RoleSuperAdmin)
}

// HasRole reports whether role satisfies one of allowed. A super admin
// satisfies every role.
func HasRole(role string, allowed ...Role) bool {
	if len(allowed) == 0 {
		return false
	}
	current := NormalizeRole(role)
	if current == RoleSuperAdmin {
		return true
	}
	for _, candidate := range allowed {
		if current == candidate {
			return true
		}
	}
	return false
}

func IsSuperAdmin(role string) bool {
	return NormalizeRole(role) == RoleSuperAdmin
}
