// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error body is {"error": "<message>"}:
//
//	httputil.WriteBadRequest(w, "name is required")
//	httputil.WriteUnauthorized(w, "missing credential")
//	httputil.WriteForbidden(w, "forbidden")
//	httputil.WriteRateLimited(w, 12) // also sets Retry-After: 12
//
// # Request Parsing
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// RequestIDMiddleware stores the id under contextkeys.RequestIDKey and a
// logger carrying it under the observability logger key, so handlers log with
// observability.FromContext(r.Context()).
//
// # Related Packages
//
//   - pkg/middleware: rate limiting, authentication and authorization
package httputil
