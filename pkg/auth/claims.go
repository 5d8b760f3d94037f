package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Subject string
	Role    enums.Role
	Scopes  []enums.Scope
}

// AccessTokenClaims is the typed JWT carried by ops and audit callers.
type AccessTokenClaims struct {
	Role   enums.Role    `json:"role"`
	Scopes []enums.Scope `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}
