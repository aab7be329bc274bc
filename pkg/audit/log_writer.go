package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// LogWriter emits each record as one structured log line
type LogWriter struct {
	logger *observability.Logger
}

// NewLogWriter creates a writer over logger
func NewLogWriter(logger *observability.Logger) *LogWriter {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogWriter{logger: logger.WithField("component", "audit")}
}

// Write implements Writer
func (w *LogWriter) Write(_ context.Context, rec Record) error {
	fields := map[string]interface{}{
		"audit_id":    rec.ID,
		"timestamp":   rec.Timestamp.UTC().Format(time.RFC3339),
		"action":      rec.Action,
		"principal":   rec.Principal,
		"method":      rec.Method,
		"path":        rec.Path,
		"status":      rec.Status,
		"duration_ms": rec.DurationMS,
		"client_addr": rec.ClientAddr,
		"user_agent":  rec.UserAgent,
	}
	if rec.RequestID != "" {
		fields["request_id"] = rec.RequestID
	}
	if rec.Error != "" {
		fields["error"] = rec.Error
	}
	w.logger.WithFields(fields).Info("audit")
	return nil
}

// Close implements Writer
func (w *LogWriter) Close() error {
	return nil
}
