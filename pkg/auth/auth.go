// Package auth defines the authorizer abstraction the gateway authenticates
// requests with, and a JWT-backed implementation.
//
// The request pipelines never inspect credentials themselves; they receive a
// Principal resolved by the API middleware. Authorization beyond account
// matching (RBAC, cross-account grants) is a separate concern and out of
// scope here.
package auth

import (
	"context"
	"errors"
)

// Common authentication errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoCredential = errors.New("no credential presented")
)

// Principal is an authenticated caller.
type Principal struct {
	// Account is the account the caller acts as.
	Account string

	// Subuser is set when the caller is a delegated subuser of the account.
	// Subusers cannot manage multipart uploads.
	Subuser string

	// Operator grants the relaxed storage utilization threshold.
	Operator bool
}

// IsSubuser reports whether the principal is a delegated subuser.
func (p *Principal) IsSubuser() bool {
	return p.Subuser != ""
}

// Authorizer resolves a bearer credential into a principal.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*Principal, error)
}

type principalKey struct{}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal the middleware attached.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
