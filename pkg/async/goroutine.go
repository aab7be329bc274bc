package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and error logging. The
// logger is taken from parentCtx. A positive timeout bounds fn; zero leaves
// it running until parentCtx is done, which suits long-lived watchers and
// listeners.
//
// The returned channel receives fn's result (a recovered panic becomes an
// error) and is then closed.
//
//	async.SafeGo(ctx, 0, "seed watcher", func(ctx context.Context) error {
//	    return rbac.WatchRoleDefinitions(ctx, path, time.Second, logger, reseed)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	go func() {
		defer close(done)

		ctx, cancel := parentCtx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()

		err := run(ctx, fn)

		logger := observability.FromContext(parentCtx).WithField("task", taskName)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			logger.Debug("Background task canceled")
		default:
			logger.WithError(err).Error("Background task failed")
		}
		done <- err
	}()

	return done
}

// SafeGoNoError is like SafeGo for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) <-chan error {
	return SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.FromContext(ctx).
				WithField("stack", string(debug.Stack())).
				WithField("panic", fmt.Sprint(r)).
				Error("PANIC recovered in background task")
			err = observability.MustRecover(r)
		}
	}()
	return fn(ctx)
}
