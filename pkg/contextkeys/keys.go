// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/accessgate/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	principal, _ := contextkeys.GetPrincipal(ctx).(*auth.Principal)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: authorization middleware, admin handlers
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: cmd/accessgate when building the router
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditStateKey contains the per-request audit annotations
	// Set by: audit.Middleware (pkg/audit/middleware.go)
	// Used by: rate limit, authentication and authorization middleware
	// Type: *audit.requestState
	AuditStateKey Key = "audit_state"

	// RequestStartTimeKey contains request start timestamp
	// Set by: audit.Middleware
	// Used by: Duration calculation for audit records
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"

	// ClientIPKey contains the resolved caller address
	// Set by: httputil.ClientIPMiddleware
	// Used by: rate limit keys, audit records
	// Type: string
	ClientIPKey Key = "client_ip"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal retrieves the raw principal value from context
func GetPrincipal(ctx context.Context) interface{} {
	return ctx.Value(PrincipalKey)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditState adds the audit request state to the context
func WithAuditState(ctx context.Context, state interface{}) context.Context {
	return context.WithValue(ctx, AuditStateKey, state)
}

// GetAuditState retrieves the raw audit request state from context
func GetAuditState(ctx context.Context) interface{} {
	return ctx.Value(AuditStateKey)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestStartTime retrieves the request start time, or the zero time if unset
func GetRequestStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// WithClientIP adds the resolved caller address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the resolved caller address, or "" if unset
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
