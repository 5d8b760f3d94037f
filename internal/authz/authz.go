// Package authz decides whether a principal holds the scopes an operation requires.
package authz

import (
	"strings"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// Reason explains a denied decision.
type Reason string

const (
	ReasonRoleUnsupported Reason = "ROLE_UNSUPPORTED"
	ReasonScopeMissing    Reason = "SCOPE_MISSING"
)

// Principal is the resolved caller identity. Role may be invalid when the caller sent an
// unknown role; Authorize rejects such principals.
type Principal struct {
	Role        enums.Role
	ExtraScopes []enums.Scope
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed       bool          `json:"allowed"`
	Reason        Reason        `json:"reason,omitempty"`
	MissingScopes []enums.Scope `json:"missingScopes"`
}

// Authorizer is the gate consumed by transports.
type Authorizer interface {
	Authorize(p Principal, required ...enums.Scope) Decision
}

var roleScopes = map[enums.Role][]enums.Scope{
	enums.RoleSystem: enums.AllScopes(),
	enums.RoleOperator: {
		enums.ScopeRequestSubmit,
		enums.ScopeRequestRead,
		enums.ScopeParticipantRegister,
		enums.ScopeParticipantUpdate,
		enums.ScopeConsentWrite,
		enums.ScopeConsentRevoke,
		enums.ScopeAuditRead,
		enums.ScopeOpsMetricsRead,
		enums.ScopeOpsDeploy,
		enums.ScopeOpsInvoke,
	},
	enums.RoleAuditor: {
		enums.ScopeRequestRead,
		enums.ScopeAuditRead,
		enums.ScopeAuditExport,
		enums.ScopeOpsMetricsRead,
	},
	enums.RoleParticipant: {
		enums.ScopeRequestSubmit,
		enums.ScopeRequestRead,
		enums.ScopeConsentWrite,
		enums.ScopeConsentRevoke,
	},
	enums.RoleExternal: {
		enums.ScopeRequestSubmit,
	},
}

// Gate is the role-map backed Authorizer.
type Gate struct{}

// NewGate returns the default Authorizer.
func NewGate() Gate {
	return Gate{}
}

// Authorize implements Authorizer.
func (Gate) Authorize(p Principal, required ...enums.Scope) Decision {
	return Authorize(p, required...)
}

// ScopesFor returns the scopes granted to a role by default.
func ScopesFor(role enums.Role) []enums.Scope {
	scopes := roleScopes[role]
	out := make([]enums.Scope, len(scopes))
	copy(out, scopes)
	return out
}

// Authorize checks the principal's role scopes plus its extra scopes against required.
func Authorize(p Principal, required ...enums.Scope) Decision {
	base, ok := roleScopes[p.Role]
	if !ok {
		return Decision{Allowed: false, Reason: ReasonRoleUnsupported, MissingScopes: copyScopes(required)}
	}

	granted := make(map[enums.Scope]struct{}, len(base)+len(p.ExtraScopes))
	for _, s := range base {
		granted[s] = struct{}{}
	}
	for _, s := range p.ExtraScopes {
		granted[s] = struct{}{}
	}

	missing := []enums.Scope{}
	for _, s := range required {
		if _, ok := granted[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return Decision{Allowed: false, Reason: ReasonScopeMissing, MissingScopes: missing}
	}
	return Decision{Allowed: true, MissingScopes: []enums.Scope{}}
}

// ParsePrincipal builds a principal from textual role and comma separated scopes.
// An empty role resolves to fallback; unknown scopes are dropped.
func ParsePrincipal(roleText, scopesText string, fallback enums.Role) Principal {
	role := fallback
	if strings.TrimSpace(roleText) != "" {
		parsed, err := enums.ParseRole(roleText)
		if err != nil {
			role = enums.Role(strings.ToLower(strings.TrimSpace(roleText)))
		} else {
			role = parsed
		}
	}
	return Principal{Role: role, ExtraScopes: ParseScopes(scopesText)}
}

// ParseScopes splits a comma separated list, keeping only known scopes.
func ParseScopes(value string) []enums.Scope {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []enums.Scope
	for _, raw := range strings.Split(value, ",") {
		if s, err := enums.ParseScope(strings.TrimSpace(raw)); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func copyScopes(in []enums.Scope) []enums.Scope {
	out := make([]enums.Scope, len(in))
	copy(out, in)
	return out
}
