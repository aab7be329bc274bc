package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Actions recorded when a handler does not set its own
const (
	ActionRequest         = "http.request"
	ActionAuthnFailed     = "authn.failed"
	ActionAuthzDenied     = "authz.denied"
	ActionRateLimitDenied = "ratelimit.denied"
)

// PrincipalUnauthenticated is recorded when no principal was established
const PrincipalUnauthenticated = "unauthenticated"

// Record is one audit line. It is built once after the request completes and
// never mutated afterwards, so writers may share it freely.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Principal  string    `json:"principal"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	ClientAddr string    `json:"client_addr"`
	UserAgent  string    `json:"user_agent"`
	RequestID  string    `json:"request_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// MarshalJSON renders the timestamp as RFC3339 in UTC
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     alias(r),
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
	})
}

// Writer persists records. Implementations must be safe for concurrent use.
type Writer interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Sink accepts records without blocking the caller and without reporting
// failure
type Sink interface {
	Record(rec Record)
}

// NopSink discards every record
type NopSink struct{}

// Record implements Sink
func (NopSink) Record(Record) {}
