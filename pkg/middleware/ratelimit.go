package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
	"github.com/platinummonkey/accessgate/pkg/ratelimit"
)

// KeyFunc derives the rate limit key for a request
type KeyFunc func(r *http.Request) string

// KeyByClientIP limits per client address
func KeyByClientIP(r *http.Request) string {
	return "ip:" + httputil.ClientIP(r)
}

// KeyByPrincipal limits per authenticated principal and falls back to the
// client address for anonymous requests
func KeyByPrincipal(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return "principal:" + p.Subject
	}
	return KeyByClientIP(r)
}

// RateLimitMiddleware rejects requests over a sliding window limit with 429
type RateLimitMiddleware struct {
	checker     ratelimit.Checker
	maxRequests int
	window      time.Duration
	keyFunc     KeyFunc
}

// NewRateLimitMiddleware creates a new rate limit middleware. A nil keyFunc
// limits per client address.
func NewRateLimitMiddleware(checker ratelimit.Checker, maxRequests int, window time.Duration, keyFunc KeyFunc) *RateLimitMiddleware {
	if keyFunc == nil {
		keyFunc = KeyByClientIP
	}
	return &RateLimitMiddleware{
		checker:     checker,
		maxRequests: maxRequests,
		window:      window,
		keyFunc:     keyFunc,
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := m.keyFunc(r)

		d, err := m.checker.CheckAndRecord(ctx, key, m.maxRequests, m.window)
		if err != nil {
			audit.SetError(ctx, err)
			logger := observability.FromContext(ctx).WithError(err).WithField("key", key)
			if errors.Is(err, ratelimit.ErrInvalidLimit) {
				logger.Error("Rate limit misconfigured")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				return
			}
			logger.Warn("Rate limiter unavailable")
			httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			audit.SetError(ctx, d.Err(key))
			httputil.WriteRateLimited(w, d.RetryAfterSeconds())
			return
		}

		next.ServeHTTP(w, r)
	})
}
