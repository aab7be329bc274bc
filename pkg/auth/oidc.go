package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig configures verification of ID tokens from an OpenID Connect
// provider
type OIDCConfig struct {
	IssuerURL  string
	ClientID   string
	RolesClaim string // Claim carrying role names (default: roles)
}

// OIDCAuthenticator verifies ID tokens issued by an external provider and
// maps them onto the same Principal and errors as TokenAuthenticator
type OIDCAuthenticator struct {
	verifier   *oidc.IDTokenVerifier
	rolesClaim string
}

// NewOIDCAuthenticator discovers the provider at config.IssuerURL
func NewOIDCAuthenticator(ctx context.Context, config OIDCConfig) (*OIDCAuthenticator, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("OIDC client id is required")
	}

	// Discover OIDC provider
	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return NewOIDCAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: config.ClientID}), config.RolesClaim), nil
}

// NewOIDCAuthenticatorWithVerifier wraps an already configured verifier
func NewOIDCAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier, rolesClaim string) *OIDCAuthenticator {
	if rolesClaim == "" {
		rolesClaim = "roles"
	}
	return &OIDCAuthenticator{verifier: verifier, rolesClaim: rolesClaim}
}

// Authenticate implements Authenticator
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, rawCredential string) (*Principal, error) {
	if strings.TrimSpace(rawCredential) == "" {
		return nil, ErrMissingCredential
	}

	idToken, err := a.verifier.Verify(ctx, rawCredential)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, fmt.Errorf("%w: %w", ErrExpiredCredential, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidCredential)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	p := &Principal{
		Subject:   idToken.Subject,
		Issuer:    idToken.Issuer,
		ExpiresAt: idToken.Expiry,
		Roles:     rolesFromClaim(claims[a.rolesClaim]),
	}
	p.Name, _ = claims["name"].(string)
	p.Email, _ = claims["email"].(string)
	return p, nil
}

// rolesFromClaim accepts either a JSON array of strings or a single
// space separated string, the two shapes providers use for group claims
func rolesFromClaim(v interface{}) []string {
	roles := []string{}
	switch val := v.(type) {
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
	case string:
		roles = append(roles, strings.Fields(val)...)
	}
	return roles
}
