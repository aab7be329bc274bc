package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator turns a raw bearer credential into a principal
type Authenticator interface {
	Authenticate(ctx context.Context, rawCredential string) (*Principal, error)
}

// Claims is the JWT payload accepted by TokenAuthenticator
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig configures HS256 token verification
type TokenConfig struct {
	Secret   []byte
	Issuer   string        // Required iss when set
	Audience string        // Required aud entry when set
	Leeway   time.Duration // Clock skew allowance for exp/nbf
}

// TokenAuthenticator verifies HS256 signed JWTs. It is stateless and safe
// for concurrent use.
type TokenAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenAuthenticator creates an authenticator for config
func NewTokenAuthenticator(config TokenConfig) (*TokenAuthenticator, error) {
	return newTokenAuthenticator(config, nil)
}

func newTokenAuthenticator(config TokenConfig, now func() time.Time) (*TokenAuthenticator, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	if config.Leeway < 0 {
		return nil, fmt.Errorf("token leeway must not be negative")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}

	return &TokenAuthenticator{
		secret: append([]byte(nil), config.Secret...),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authenticate verifies rawCredential. An empty credential is
// ErrMissingCredential, a well-signed token past its expiry is
// ErrExpiredCredential and every other failure is ErrInvalidCredential.
func (a *TokenAuthenticator) Authenticate(_ context.Context, rawCredential string) (*Principal, error) {
	if strings.TrimSpace(rawCredential) == "" {
		return nil, ErrMissingCredential
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(rawCredential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpiredCredential, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	return claimsToPrincipal(claims)
}

func claimsToPrincipal(claims *Claims) (*Principal, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidCredential)
	}

	p := &Principal{
		Subject: claims.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
		Roles:   claims.Roles,
		Issuer:  claims.Issuer,
	}
	if p.Roles == nil {
		p.Roles = []string{}
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// FromRequest extracts the bearer credential from the Authorization header.
// A missing header is ErrMissingCredential and any other scheme is
// ErrInvalidCredential.
func FromRequest(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingCredential
	}

	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidCredential)
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrMissingCredential
	}
	return credential, nil
}
