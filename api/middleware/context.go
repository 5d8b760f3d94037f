package middleware

import (
	"context"

	"github.com/nextmed-labs/trustledger/internal/authz"
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// WithPrincipal injects the resolved caller into the context.
func WithPrincipal(ctx context.Context, p authz.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFromContext returns the caller resolved by Auth, or an external principal.
func PrincipalFromContext(ctx context.Context) authz.Principal {
	if ctx != nil {
		if p, ok := ctx.Value(ctxPrincipal).(authz.Principal); ok {
			return p
		}
	}
	return authz.Principal{Role: enums.RoleExternal}
}

// RoleFromContext is the caller role used to attribute audit events.
func RoleFromContext(ctx context.Context) enums.Role {
	return PrincipalFromContext(ctx).Role
}
