package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints HS256 tokens that TokenAuthenticator accepts with the same
// TokenConfig. It backs the token CLI and tests.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewIssuer creates an issuer for config
func NewIssuer(config TokenConfig) (*Issuer, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	return &Issuer{
		secret:   append([]byte(nil), config.Secret...),
		issuer:   config.Issuer,
		audience: config.Audience,
		now:      time.Now,
	}, nil
}

// Issue signs a token for p valid for ttl
func (i *Issuer) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}

	now := i.now()
	claims := Claims{
		Name:  p.Name,
		Email: p.Email,
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
