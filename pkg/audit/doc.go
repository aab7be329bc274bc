// Package audit records one immutable line per HTTP request for security
// review.
//
// # Pipeline
//
//	Middleware -> Sink (AsyncSink) -> Writer (Multi/Log/File/DB/S3)
//
// Middleware wraps the whole handler chain, so it sees the final status even
// when rate limiting, authentication or authorization short-circuit the
// request. Downstream code annotates the line through the request context:
//
//	audit.SetPrincipal(ctx, principal.Subject)
//	audit.SetAction(ctx, "role.assign")
//	audit.SetError(ctx, err)
//
// When no action is set it is derived from the status: 401 authn.failed,
// 403 authz.denied, 429 ratelimit.denied, otherwise http.request. A request
// without a principal is recorded as "unauthenticated".
//
// # Delivery
//
// Sink.Record never blocks and never fails. AsyncSink queues records on a
// bounded channel; when the queue is full the record is dropped and counted
// in accessgate_audit_records_total{outcome="dropped"}. Writer errors are
// logged and swallowed, so audit trouble never changes a response.
//
//	sink := audit.NewAsyncSink(audit.NewMultiWriter(
//		audit.NewLogWriter(logger),
//		dbWriter,
//	), audit.DefaultAsyncSinkConfig(), logger, metrics)
//	defer sink.Close(ctx)
//
// # Writers
//
//   - LogWriter: one structured log line per record
//   - FileWriter: JSON lines with size based rotation
//   - DBWriter: parameterized INSERT into audit_logs
//   - S3Archiver: batches JSON lines into objects, flushed on a cron schedule
//   - MultiWriter: concurrent fan-out with joined errors
package audit
