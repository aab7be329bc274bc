package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
)

// AuthMiddleware authenticates the bearer credential on each request and
// attaches the resulting principal to the request context
type AuthMiddleware struct {
	authenticator auth.Authenticator
	optional      bool // If true, allow requests without a credential
	metrics       *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authenticator auth.Authenticator, optional bool, metrics *observability.Metrics) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		optional:      optional,
		metrics:       metrics,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, err := auth.FromRequest(r)
		if err != nil && errors.Is(err, auth.ErrMissingCredential) && m.optional {
			next.ServeHTTP(w, r)
			return
		}

		var principal *auth.Principal
		if err == nil {
			principal, err = m.authenticator.Authenticate(ctx, raw)
		}
		if err != nil {
			m.metrics.ObserveAuthentication(authResult(err))
			audit.SetError(ctx, err)
			observability.FromContext(ctx).WithError(err).Debug("Authentication failed")
			httputil.WriteUnauthorized(w, unauthorizedMessage(err))
			return
		}

		m.metrics.ObserveAuthentication("success")
		audit.SetPrincipal(ctx, principal.Subject)

		ctx = auth.WithPrincipal(ctx, principal)
		ctx = observability.WithLogger(ctx, observability.FromContext(ctx).WithField("principal", principal.Subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing"
	case errors.Is(err, auth.ErrExpiredCredential):
		return "expired"
	default:
		return "invalid"
	}
}

// unauthorizedMessage never echoes verification details to the client
func unauthorizedMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return auth.ErrMissingCredential.Error()
	case errors.Is(err, auth.ErrExpiredCredential):
		return auth.ErrExpiredCredential.Error()
	default:
		return auth.ErrInvalidCredential.Error()
	}
}
