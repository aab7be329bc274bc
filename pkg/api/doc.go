// Package api assembles the accessgate HTTP server.
//
// # Routes
//
//	GET  /healthz                 liveness
//	GET  /readyz                  readiness (database, Redis)
//	GET  /metrics                 Prometheus scrape endpoint
//	GET  /api/v1/me               caller's principal, roles and permissions
//	     /api/v1/roles...         role administration (see pkg/rbac)
//	     /api/v1/users/{userID}/  role assignments and resolved permissions
//
// Every /api/v1 request is audited, rate limited, authenticated and then
// authorized per route. Health and metrics endpoints skip that pipeline.
//
// # Usage
//
//	server := api.NewServer(api.Options{
//		Registry:      registry,
//		Authenticator: authenticator,
//		Authorizer:    authorizer,
//		Limiter:       limiter,
//		RateLimit:     api.RateLimit{Enabled: true, MaxRequests: 100, Window: time.Minute},
//		AuditSink:     sink,
//	})
//	http.ListenAndServe(":8080", server)
package api
