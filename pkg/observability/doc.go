// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal", id).Warn("authorization denied")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveAuthorization("permission", false, elapsed)
//
// A nil *Metrics records nothing, which keeps unit tests free of registries.
//
// # Tracing
//
//	ctx, span := observability.Tracer("authz").Start(ctx, "authz.Authorize")
//	defer span.End()
package observability
