package enums

import (
	"fmt"
	"strings"
)

// Role identifies the actor class behind a request or an audit event.
type Role string

const (
	RoleSystem      Role = "system"
	RoleOperator    Role = "operator"
	RoleAuditor     Role = "auditor"
	RoleParticipant Role = "participant"
	RoleExternal    Role = "external"
)

var validRoles = []Role{
	RoleSystem,
	RoleOperator,
	RoleAuditor,
	RoleParticipant,
	RoleExternal,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole normalizes case and whitespace before matching.
func ParseRole(value string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
