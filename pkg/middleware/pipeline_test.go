package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/authz"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// recordingSink keeps audit records in memory
type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *recordingSink) Record(rec audit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) last() audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return audit.Record{}
	}
	return s.records[len(s.records)-1]
}

type pipeline struct {
	router   *mux.Router
	registry *rbac.Registry
	sink     *recordingSink
}

func newPipeline(t *testing.T, maxRequests int) *pipeline {
	t.Helper()
	reg := rbac.NewTestRegistry(t)
	sink := &recordingSink{}

	limit := NewRateLimitMiddleware(newLimiter(t), maxRequests, time.Minute, nil)
	authn := NewAuthMiddleware(newTestAuthenticator(t), false, nil)
	authzMW := NewAuthorizeMiddleware(authz.NewAuthorizer(reg, authz.Config{RegistryElevatedRoles: []string{"Administrator"}}, nil, nil))

	router := mux.NewRouter()
	router.Use(audit.Middleware(sink), limit.Handler, authn.Handler)

	api := router.PathPrefix("/api/v1").Subrouter()
	rbac.NewHandlers(reg).RegisterRoutes(api, authzMW.RequirePermission)
	api.Handle("/invoices", authzMW.RequirePermission("billing:read", okHandler())).Methods(http.MethodGet)

	return &pipeline{router: router, registry: reg, sink: sink}
}

func (p *pipeline) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.50:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	p.router.ServeHTTP(w, req)
	return w
}

func TestPipeline_BillingScenario(t *testing.T) {
	p := newPipeline(t, 100)
	ctx := context.Background()

	billing, err := p.registry.CreateRole(ctx, "Billing", "", []string{"billing:read", "billing:update"})
	require.NoError(t, err)
	_, err = p.registry.AssignRole(ctx, "U1", billing.ID)
	require.NoError(t, err)

	token := issueToken(t, auth.Principal{Subject: "U1"}, time.Hour)

	w := p.do(t, http.MethodGet, "/api/v1/invoices", token)
	assert.Equal(t, http.StatusOK, w.Code)
	rec := p.sink.last()
	assert.Equal(t, audit.ActionRequest, rec.Action)
	assert.Equal(t, "U1", rec.Principal)
	assert.Equal(t, http.StatusOK, rec.Status)

	// Not an admin: the role API is forbidden
	w = p.do(t, http.MethodGet, "/api/v1/roles", token)
	assert.Equal(t, http.StatusForbidden, w.Code)
	rec = p.sink.last()
	assert.Equal(t, audit.ActionAuthzDenied, rec.Action)
	assert.Equal(t, "U1", rec.Principal)

	_, err = p.registry.RevokeRole(ctx, "U1", billing.ID)
	require.NoError(t, err)

	w = p.do(t, http.MethodGet, "/api/v1/invoices", token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPipeline_AdminManagesRoles(t *testing.T) {
	p := newPipeline(t, 100)
	ctx := context.Background()

	role, err := p.registry.CreateRole(ctx, "Administrator", "", nil)
	require.NoError(t, err)
	_, err = p.registry.AssignRole(ctx, "A1", role.ID)
	require.NoError(t, err)

	admin := issueToken(t, auth.Principal{Subject: "A1", Roles: []string{"Administrator"}}, time.Hour)

	w := p.do(t, http.MethodGet, "/api/v1/roles", admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A1", p.sink.last().Principal)

	// Revoking the role takes effect on the token already issued
	_, err = p.registry.RevokeRole(ctx, "A1", role.ID)
	require.NoError(t, err)

	w = p.do(t, http.MethodGet, "/api/v1/roles", admin)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, audit.ActionAuthzDenied, p.sink.last().Action)
}

func TestPipeline_Unauthenticated(t *testing.T) {
	p := newPipeline(t, 100)

	w := p.do(t, http.MethodGet, "/api/v1/invoices", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	rec := p.sink.last()
	assert.Equal(t, audit.ActionAuthnFailed, rec.Action)
	assert.Equal(t, audit.PrincipalUnauthenticated, rec.Principal)
	assert.Equal(t, "missing credential", rec.Error)
	assert.Equal(t, "192.0.2.50", rec.ClientAddr)
}

func TestPipeline_RateLimitedBeforeAuthentication(t *testing.T) {
	p := newPipeline(t, 2)

	for i := 0; i < 2; i++ {
		w := p.do(t, http.MethodGet, "/api/v1/invoices", "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := p.do(t, http.MethodGet, "/api/v1/invoices", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	rec := p.sink.last()
	assert.Equal(t, audit.ActionRateLimitDenied, rec.Action)
	assert.Equal(t, http.StatusTooManyRequests, rec.Status)
}
