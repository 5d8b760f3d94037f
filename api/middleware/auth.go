package middleware

import (
	"net/http"
	"strings"

	"github.com/nextmed-labs/trustledger/api/responses"
	"github.com/nextmed-labs/trustledger/api/validators"
	"github.com/nextmed-labs/trustledger/internal/authz"
	pkgAuth "github.com/nextmed-labs/trustledger/pkg/auth"
	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

const (
	roleHeader   = "X-Role"
	scopesHeader = "X-Scopes"
)

// Auth resolves the caller principal. A bearer token wins; otherwise X-Role/X-Scopes are read
// when allowed, and the configured fallback role applies when nothing is sent.
func Auth(cfg config.AuthConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	fallback, err := enums.ParseRole(cfg.FallbackRole)
	if err != nil {
		fallback = enums.RoleExternal
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := authz.Principal{Role: fallback}

			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			switch {
			case raw != "":
				token, err := validators.BearerToken(raw)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "malformed authorization header"))
					return
				}
				claims, err := pkgAuth.ParseAccessToken(cfg, token)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
					return
				}
				principal = authz.Principal{Role: claims.Role, ExtraScopes: claims.Scopes}
			case cfg.AllowHeaders:
				principal = authz.ParsePrincipal(r.Header.Get(roleHeader), r.Header.Get(scopesHeader), fallback)
			}

			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithActorRole(ctx, string(principal.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopes rejects callers missing any of the scopes with 403 FORBIDDEN.
func RequireScopes(gate authz.Authorizer, logg *logger.Logger, scopes ...enums.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := gate.Authorize(PrincipalFromContext(r.Context()), scopes...)
			if !decision.Allowed {
				err := pkgerrors.New(pkgerrors.CodeForbidden, "missing required scopes").WithDetails(map[string]any{
					"reason":        decision.Reason,
					"missingScopes": decision.MissingScopes,
				})
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
