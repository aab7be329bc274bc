// Package async runs background goroutines with panic recovery, optional
// timeouts and structured error logging.
//
//	done := async.SafeGo(ctx, 0, "health server", func(ctx context.Context) error {
//		return server.ListenAndServe()
//	})
//
// The logger comes from the parent context (observability.WithLogger), so
// task failures carry the same fields as the code that started them.
package async
