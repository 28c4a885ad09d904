package auth

import "fmt"

// Role grants access to parts of the gateway API
type Role string

const (
	// RoleAdmin reads every tenant and the gateway-wide stats
	RoleAdmin Role = "admin"

	// RoleAgent submits requests and reads its own tenant
	RoleAgent Role = "agent"
)

func (r Role) String() string { return string(r) }

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleAgent
}

// HasPermission reports whether r satisfies required. Admins satisfy
// every role.
func (r Role) HasPermission(required Role) bool {
	return r == RoleAdmin || r == required
}

// ParseRoles converts role names, defaulting to agent when names is empty
func ParseRoles(names []string) ([]Role, error) {
	if len(names) == 0 {
		return []Role{RoleAgent}, nil
	}
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		role := Role(name)
		if !role.IsValid() {
			return nil, fmt.Errorf("unknown role: %s", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}
