package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/authz"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/middleware"
	"github.com/platinummonkey/accessgate/pkg/observability"
	"github.com/platinummonkey/accessgate/pkg/ratelimit"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// RateLimit configures the request gate in front of authentication. When
// PrincipalMaxRequests is positive a second limit keyed by the authenticated
// principal runs after authentication over the same window.
type RateLimit struct {
	Enabled              bool
	MaxRequests          int
	Window               time.Duration
	PrincipalMaxRequests int
}

// Options are the collaborators of a Server. Registry, Authenticator and
// Authorizer are required; everything else may be left zero.
type Options struct {
	Registry      *rbac.Registry
	Authenticator auth.Authenticator
	Authorizer    *authz.Authorizer

	Limiter   ratelimit.Checker
	RateLimit RateLimit

	AuditSink       audit.Sink
	Health          *observability.HealthChecker
	MetricsRegistry *prometheus.Registry
	Metrics         *observability.Metrics
	Logger          *observability.Logger

	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Nil trusts
	// nobody and every client is identified by its socket address.
	TrustedProxies *httputil.TrustedProxies

	MaxBodyBytes int64 // Request body limit (default: 1MB)
	SSLRedirect  bool
}

// Server is the accessgate HTTP server: health and metrics endpoints plus
// the role admin API behind the rate limit, authentication, authorization
// and audit pipeline
type Server struct {
	router   *mux.Router
	handler  http.Handler
	registry *rbac.Registry
	authz    *middleware.AuthorizeMiddleware
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.AuditSink == nil {
		opts.AuditSink = audit.NopSink{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		router:   mux.NewRouter(),
		registry: opts.Registry,
		authz:    middleware.NewAuthorizeMiddleware(opts.Authorizer),
	}

	s.setupRoutes(opts)

	// otelhttp sits outermost so request spans parent every other span
	s.handler = otelhttp.NewHandler(s.router, "accessgate")
	return s
}

func (s *Server) setupRoutes(opts Options) {
	securityHeaders := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           opts.SSLRedirect,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	s.router.Use(
		httputil.RequestIDMiddleware(opts.Logger),
		httputil.ClientIPMiddleware(opts.TrustedProxies),
		httputil.RecoveryMiddleware,
		securityHeaders.Handler,
		opts.Metrics.HTTPMiddleware,
		httputil.LoggingMiddleware,
	)

	if opts.Health != nil {
		observability.RegisterHealthRoutes(s.router, opts.Health)
	}
	if opts.MetricsRegistry != nil {
		s.router.Handle("/metrics", observability.Handler(opts.MetricsRegistry)).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(audit.Middleware(opts.AuditSink))
	if opts.RateLimit.Enabled && opts.Limiter != nil {
		limit := middleware.NewRateLimitMiddleware(opts.Limiter, opts.RateLimit.MaxRequests, opts.RateLimit.Window, middleware.KeyByClientIP)
		api.Use(limit.Handler)
	}
	api.Use(middleware.NewAuthMiddleware(opts.Authenticator, false, opts.Metrics).Handler)
	if opts.RateLimit.Enabled && opts.Limiter != nil && opts.RateLimit.PrincipalMaxRequests > 0 {
		perPrincipal := middleware.NewRateLimitMiddleware(opts.Limiter, opts.RateLimit.PrincipalMaxRequests, opts.RateLimit.Window, middleware.KeyByPrincipal)
		api.Use(perPrincipal.Handler)
	}
	api.Use(
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)

	api.HandleFunc("/me", s.getMe).Methods(http.MethodGet)
	rbac.NewHandlers(s.registry).RegisterRoutes(api, s.authz.RequirePermission)
}

// Router exposes the route table so embedding services can add routes
// behind the same pipeline
func (s *Server) Router() *mux.Router {
	return s.router
}

// Authorize returns the authorization middleware used by the API routes
func (s *Server) Authorize() *middleware.AuthorizeMiddleware {
	return s.authz
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
