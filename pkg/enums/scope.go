package enums

import "fmt"

// Scope is a named capability required to invoke an operation.
type Scope string

const (
	ScopeRequestSubmit       Scope = "request:submit"
	ScopeRequestRead         Scope = "request:read"
	ScopeParticipantRegister Scope = "participant:register"
	ScopeParticipantUpdate   Scope = "participant:update"
	ScopeConsentWrite        Scope = "consent:write"
	ScopeConsentRevoke       Scope = "consent:revoke"
	ScopeAuditRead           Scope = "audit:read"
	ScopeAuditExport         Scope = "audit:export"
	ScopeOpsMetricsRead      Scope = "ops:metrics:read"
	ScopeOpsDeploy           Scope = "ops:deploy"
	ScopeOpsInvoke           Scope = "ops:invoke"
)

var validScopes = []Scope{
	ScopeRequestSubmit,
	ScopeRequestRead,
	ScopeParticipantRegister,
	ScopeParticipantUpdate,
	ScopeConsentWrite,
	ScopeConsentRevoke,
	ScopeAuditRead,
	ScopeAuditExport,
	ScopeOpsMetricsRead,
	ScopeOpsDeploy,
	ScopeOpsInvoke,
}

// AllScopes returns every known scope in declaration order.
func AllScopes() []Scope {
	out := make([]Scope, len(validScopes))
	copy(out, validScopes)
	return out
}

// IsValid reports whether the value is a known Scope.
func (s Scope) IsValid() bool {
	for _, candidate := range validScopes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseScope converts raw input into a Scope.
func ParseScope(value string) (Scope, error) {
	for _, candidate := range validScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid scope %q", value)
}
