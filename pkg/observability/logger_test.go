package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/platinummonkey/accessgate/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
	Principal string `json:"principal"`
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) logEntry {
	t.Helper()
	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug suppressed at info", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info written", func(t *testing.T) {
		buf.Reset()
		logger.Infof("hello %s", "world")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "INFO", entry.Level)
		assert.Equal(t, "hello world", entry.Message)
	})

	t.Run("error written", func(t *testing.T) {
		buf.Reset()
		logger.Error("boom")
		assert.Equal(t, "ERROR", decodeEntry(t, &buf).Level)
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithError(errors.New("store down")).WithFields(map[string]interface{}{
		"principal": "u1",
	}).Warn("authorization failed closed")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "store down", entry.Error)
	assert.Equal(t, "u1", entry.Principal)

	assert.Same(t, logger, logger.WithError(nil))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLogLevel(input), input)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-123")

	FromContext(ctx).Info("handled")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-123", entry.RequestID)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Error("discarded")
	})
}
