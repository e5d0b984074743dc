// ABOUTME: Principal type and request-context plumbing for the authenticated caller
// ABOUTME: Provides WithPrincipal/FromContext for propagating identity to handlers

package auth

import (
	"context"
	"slices"
)

// Principal is the authenticated identity carried by a session token. Its role
// set is fixed at login time.
type Principal struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// HasRole reports whether role is in the principal's role set.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Roles, role)
}

// principalContextKey is the key type for storing a Principal in context.Context.
type principalContextKey struct{}

// WithPrincipal returns a new context with p attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext retrieves the Principal from the context, returning nil if not present.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
