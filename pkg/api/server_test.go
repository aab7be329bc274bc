package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/authz"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
	"github.com/platinummonkey/accessgate/pkg/ratelimit"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

var serverTokenConfig = auth.TokenConfig{Secret: []byte("server-test-secret"), Issuer: "accessgate"}

type testServer struct {
	*Server
	registry *rbac.Registry
	issuer   *auth.Issuer
}

func newTestServer(t *testing.T, rateLimit RateLimit, mutate ...func(*Options)) *testServer {
	t.Helper()

	reg := rbac.NewTestRegistry(t)
	_, err := reg.SeedDefaultRoles(context.Background(), rbac.DefaultRoles())
	require.NoError(t, err)

	authn, err := auth.NewTokenAuthenticator(serverTokenConfig)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(serverTokenConfig)
	require.NoError(t, err)

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{})
	require.NoError(t, err)

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	opts := Options{
		Registry:        reg,
		Authenticator:   authn,
		Authorizer:      authz.NewAuthorizer(reg, authz.Config{RegistryElevatedRoles: []string{"Administrator"}}, nil, metrics),
		Limiter:         limiter,
		RateLimit:       rateLimit,
		Health:          observability.NewHealthChecker(nil, nil, "test"),
		MetricsRegistry: promRegistry,
		Metrics:         metrics,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s := NewServer(opts)
	return &testServer{Server: s, registry: reg, issuer: issuer}
}

func (s *testServer) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	token, err := s.issuer.Issue(auth.Principal{Subject: subject, Roles: roles}, time.Hour)
	require.NoError(t, err)
	return token
}

// grant assigns a seeded role to subject
func (s *testServer) grant(t *testing.T, subject, roleName string) int64 {
	t.Helper()
	ctx := context.Background()
	role, err := s.registry.GetRoleByName(ctx, roleName)
	require.NoError(t, err)
	_, err = s.registry.AssignRole(ctx, subject, role.ID)
	require.NoError(t, err)
	return role.ID
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, RateLimit{})

	w := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, RateLimit{})
	s.do(t, http.MethodGet, "/healthz", "", "")

	w := s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "accessgate_http_requests_total")
}

func TestServer_Me(t *testing.T) {
	s := newTestServer(t, RateLimit{})
	ctx := context.Background()

	billing, err := s.registry.GetRoleByName(ctx, "Billing")
	require.NoError(t, err)
	_, err = s.registry.AssignRole(ctx, "U1", billing.ID)
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/v1/me", s.token(t, "U1"), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp meResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "U1", resp.Principal.Subject)
	assert.Equal(t, []string{"Billing"}, resp.Roles)
	assert.ElementsMatch(t, billing.Permissions, resp.Permissions)

	w = s.do(t, http.MethodGet, "/api/v1/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_RoleAdmin(t *testing.T) {
	s := newTestServer(t, RateLimit{})
	adminRole := s.grant(t, "A1", "Administrator")
	admin := s.token(t, "A1", "Administrator")
	user := s.token(t, "U1")

	w := s.do(t, http.MethodPost, "/api/v1/roles", admin, `{"name":"Auditor","permissions":["audit:read"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/roles", admin, `{"name":"Auditor"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/roles", user, `{"name":"Sneaky"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/roles", admin, `name=x`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/roles/99999", admin, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A forged Administrator claim without the registry role is not enough
	w = s.do(t, http.MethodGet, "/api/v1/roles", s.token(t, "U1", "Administrator"), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := s.registry.RevokeRole(context.Background(), "A1", adminRole)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/v1/roles", admin, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, RateLimit{Enabled: true, MaxRequests: 2, Window: time.Minute})
	token := s.token(t, "U1")

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodGet, "/api/v1/me", token, "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/v1/me", token, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Health checks are outside the gate
	w = s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_PerPrincipalRateLimit(t *testing.T) {
	s := newTestServer(t, RateLimit{Enabled: true, MaxRequests: 100, Window: time.Minute, PrincipalMaxRequests: 1})

	w := s.do(t, http.MethodGet, "/api/v1/me", s.token(t, "U1"), "")
	require.Equal(t, http.StatusOK, w.Code)

	// Same address, same principal: the principal limit applies
	w = s.do(t, http.MethodGet, "/api/v1/me", s.token(t, "U1"), "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/me", s.token(t, "U2"), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_TrustedProxies(t *testing.T) {
	proxies, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	s := newTestServer(t, RateLimit{Enabled: true, MaxRequests: 1, Window: time.Minute}, func(o *Options) {
		o.TrustedProxies = proxies
	})
	token := s.token(t, "U1")

	send := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.RemoteAddr = remote
		req.Header.Set("Authorization", "Bearer "+token)
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		return w.Code
	}

	// Behind the proxy each forwarded client has its own window
	assert.Equal(t, http.StatusOK, send("10.0.0.1:443", "203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:443", "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:443", "203.0.113.1"))

	// A direct client cannot pick a fresh key per request
	assert.Equal(t, http.StatusOK, send("198.51.100.7:5000", "203.0.113.3"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.7:5000", "203.0.113.4"))
}
