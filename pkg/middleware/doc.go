// Package middleware provides the HTTP request gate: rate limiting,
// authentication and authorization.
//
// # Pipeline
//
// Handlers are wrapped in this order so that every outcome is audited:
//
//	audit.Middleware(sink)
//	  -> RateLimitMiddleware   429 with Retry-After
//	    -> AuthMiddleware      401 for missing, expired or invalid credentials
//	      -> AuthorizeMiddleware 403, failing closed on store errors
//	        -> handler
//
// # Usage
//
//	limit := middleware.NewRateLimitMiddleware(limiter, 100, time.Minute, nil)
//	authn := middleware.NewAuthMiddleware(authenticator, false, metrics)
//	authzMW := middleware.NewAuthorizeMiddleware(authorizer)
//
//	api.Use(limit.Handler, authn.Handler)
//	api.Handle("/invoices", authzMW.RequirePermission("billing:read", invoices))
//	api.Handle("/admin", authzMW.RequireAnyRole("Administrator")(admin))
//
// RequirePermission has the rbac.Guard signature so the role admin API can
// be mounted behind the same pipeline.
//
// # Related Packages
//
//   - pkg/auth: Credential verification
//   - pkg/authz: Allow/deny decisions
//   - pkg/ratelimit: Sliding window limiters
//   - pkg/audit: Request audit records
package middleware
