package async

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

func ctxWithLogger(buf *bytes.Buffer) context.Context {
	logger := observability.NewLogger(observability.DebugLevel, buf)
	return observability.WithLogger(context.Background(), logger)
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
		return nil
	}
}

func TestSafeGo_Success(t *testing.T) {
	var buf bytes.Buffer
	executed := atomic.Bool{}

	done := SafeGo(ctxWithLogger(&buf), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err := wait(t, done); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !executed.Load() {
		t.Error("SafeGo did not execute function")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %s", buf.String())
	}
}

func TestSafeGo_WithError(t *testing.T) {
	var buf bytes.Buffer
	testErr := errors.New("test error")

	done := SafeGo(ctxWithLogger(&buf), time.Second, "test task", func(ctx context.Context) error {
		return testErr
	})

	if err := wait(t, done); !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("Background task failed")) || !bytes.Contains(buf.Bytes(), []byte(`"task":"test task"`)) {
		t.Errorf("expected failure to be logged with task name, got %s", buf.String())
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	var buf bytes.Buffer

	done := SafeGo(ctxWithLogger(&buf), 50*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := wait(t, done); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSafeGo_NoTimeoutRunsUntilCanceled(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(ctxWithLogger(&buf))

	done := SafeGo(ctx, 0, "watcher", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case <-done:
		t.Fatal("task finished before cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := wait(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled, got %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("Background task failed")) {
		t.Error("cancellation should not be logged as a failure")
	}
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	var buf bytes.Buffer

	done := SafeGo(ctxWithLogger(&buf), time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	err := wait(t, done)
	if err == nil || err.Error() != "panic: test panic" {
		t.Errorf("expected panic error, got %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("PANIC recovered")) {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}

func TestSafeGo_ChannelClosed(t *testing.T) {
	done := SafeGo(context.Background(), 0, "test task", func(ctx context.Context) error { return nil })
	wait(t, done)

	if _, ok := <-done; ok {
		t.Error("expected done channel to be closed")
	}
}

func TestSafeGoNoError(t *testing.T) {
	executed := atomic.Bool{}

	done := SafeGoNoError(context.Background(), time.Second, "test task", func(ctx context.Context) {
		executed.Store(true)
	})

	if err := wait(t, done); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !executed.Load() {
		t.Error("SafeGoNoError did not execute function")
	}
}
