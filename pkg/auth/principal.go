package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/accessgate/pkg/contextkeys"
)

// Principal is the authenticated caller derived from a verified credential
type Principal struct {
	Subject   string    `json:"sub"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	Issuer    string    `json:"iss,omitempty"`
	ExpiresAt time.Time `json:"exp"`
}

// HasRole reports whether the principal's credential names role
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of roles
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

// WithPrincipal attaches p to ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// PrincipalFromContext returns the principal attached by the authentication
// middleware
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := contextkeys.GetPrincipal(ctx).(*Principal)
	return p, ok && p != nil
}
