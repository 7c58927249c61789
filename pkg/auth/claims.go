// Package auth validates bearer tokens for the API and MCP endpoints.
// Tokens are JWTs whose issuer must be configured with a JWKS endpoint.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// ClaimsKey is the context key for storing JWT claims.
const ClaimsKey contextKey = "claims"

// Claims are the token fields the engine reads. Only the registered claims
// are checked; Scope and Email are carried into audit logs.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Scope string `json:"scp,omitempty"`
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaims retrieves JWT claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok && claims != nil
}
