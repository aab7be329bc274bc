package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/ratelimit"
)

// erroringChecker always fails
type erroringChecker struct{ err error }

func (c erroringChecker) CheckAndRecord(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, c.err
}

func newLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.NewLimiter(ratelimit.Config{})
	require.NoError(t, err)
	return l
}

func TestRateLimitMiddleware_Handler(t *testing.T) {
	m := NewRateLimitMiddleware(newLimiter(t), 3, time.Minute, nil)
	handler := m.Handler(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body.Error)
	assert.Greater(t, body.RetryAfter, 0)
	assert.LessOrEqual(t, body.RetryAfter, 60)
	assert.Equal(t, w.Header().Get("Retry-After"), jsonInt(body.RetryAfter))

	// Another client is unaffected
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRateLimitMiddleware_KeyByPrincipal(t *testing.T) {
	m := NewRateLimitMiddleware(newLimiter(t), 1, time.Minute, KeyByPrincipal)
	handler := m.Handler(okHandler())

	send := func(p *auth.Principal) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		if p != nil {
			req = req.WithContext(auth.WithPrincipal(req.Context(), p))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send(&auth.Principal{Subject: "U1"}))
	assert.Equal(t, http.StatusTooManyRequests, send(&auth.Principal{Subject: "U1"}))
	assert.Equal(t, http.StatusOK, send(&auth.Principal{Subject: "U2"}))
	assert.Equal(t, http.StatusOK, send(nil), "anonymous requests are keyed by address")
	assert.Equal(t, http.StatusTooManyRequests, send(nil))
}

func TestRateLimitMiddleware_CheckerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unavailable", ratelimit.ErrLimiterUnavailable, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusServiceUnavailable},
		{"invalid limit", ratelimit.ErrInvalidLimit, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewRateLimitMiddleware(erroringChecker{err: tt.err}, 3, time.Minute, nil)
			w := httptest.NewRecorder()
			m.Handler(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestKeyByClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")

	// Forwarding headers from an untrusted peer are ignored
	assert.Equal(t, "ip:198.51.100.7", KeyByClientIP(req))

	proxies, err := httputil.ParseTrustedProxies([]string{"198.51.100.7"})
	require.NoError(t, err)
	var key string
	httputil.ClientIPMiddleware(proxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = KeyByClientIP(r)
	})).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "ip:203.0.113.5", key)
}

func TestRateLimitMiddleware_SpoofedForwardingHeader(t *testing.T) {
	m := NewRateLimitMiddleware(newLimiter(t), 2, time.Minute, KeyByClientIP)
	handler := httputil.ClientIPMiddleware(nil)(m.Handler(okHandler()))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}
