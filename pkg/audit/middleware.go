package audit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/accessgate/pkg/contextkeys"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

// requestState collects annotations made by downstream handlers. It lives
// for one request and is read once after the handler chain returns.
type requestState struct {
	mu        sync.Mutex
	action    string
	principal string
	err       string
}

func stateFrom(ctx context.Context) *requestState {
	state, _ := contextkeys.GetAuditState(ctx).(*requestState)
	return state
}

// SetAction names the operation being audited. Calls outside the audit
// middleware are ignored.
func SetAction(ctx context.Context, action string) {
	if state := stateFrom(ctx); state != nil {
		state.mu.Lock()
		state.action = action
		state.mu.Unlock()
	}
}

// SetPrincipal records who made the request
func SetPrincipal(ctx context.Context, principal string) {
	if state := stateFrom(ctx); state != nil {
		state.mu.Lock()
		state.principal = principal
		state.mu.Unlock()
	}
}

// SetError records why the request failed
func SetError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if state := stateFrom(ctx); state != nil {
		state.mu.Lock()
		state.err = err.Error()
		state.mu.Unlock()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Middleware records one audit line per request once the downstream chain
// has completed, including when it panics. A panic is recorded as a 500 and
// then re-raised for the recovery middleware. Recording goes through sink and
// never delays the response beyond building the record.
func Middleware(sink Sink) func(http.Handler) http.Handler {
	if sink == nil {
		sink = NopSink{}
	}
	now := time.Now

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := now()
			state := &requestState{}

			ctx := contextkeys.WithAuditState(r.Context(), state)
			ctx = contextkeys.WithRequestStartTime(ctx, start)

			r = r.WithContext(ctx)
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				status := wrapped.statusCode
				rec := recover()
				if rec != nil {
					if !wrapped.written {
						status = http.StatusInternalServerError
					}
					SetError(ctx, fmt.Errorf("panic: %v", rec))
				}
				sink.Record(buildRecord(r, state, status, now().Sub(start)))
				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

func buildRecord(r *http.Request, state *requestState, status int, duration time.Duration) Record {
	state.mu.Lock()
	action, principal, errMsg := state.action, state.principal, state.err
	state.mu.Unlock()

	if action == "" {
		action = actionForStatus(status)
	}
	if principal == "" {
		principal = PrincipalUnauthenticated
	}

	return Record{
		ID:         uuid.New().String(),
		Timestamp:  contextkeys.GetRequestStartTime(r.Context()).UTC(),
		Action:     action,
		Principal:  principal,
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     status,
		DurationMS: duration.Milliseconds(),
		ClientAddr: httputil.ClientIP(r),
		UserAgent:  r.UserAgent(),
		RequestID:  contextkeys.GetRequestID(r.Context()),
		Error:      errMsg,
	}
}

func actionForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return ActionAuthnFailed
	case http.StatusForbidden:
		return ActionAuthzDenied
	case http.StatusTooManyRequests:
		return ActionRateLimitDenied
	default:
		return ActionRequest
	}
}
