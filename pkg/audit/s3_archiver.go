package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// ObjectPutter uploads one object. *postgres.S3Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// S3Archiver buffers records as JSON lines and uploads the batch as one
// object on Flush. A batch is also flushed once it reaches MaxBatch records.
type S3Archiver struct {
	putter   ObjectPutter
	prefix   string
	maxBatch int
	logger   *observability.Logger
	now      func() time.Time

	mu     sync.Mutex
	buf    bytes.Buffer
	count  int
	closed bool

	// serializes uploads so batches land in order
	uploadMu sync.Mutex
}

// S3ArchiverConfig configures the archiver
type S3ArchiverConfig struct {
	Prefix   string
	MaxBatch int
}

// NewS3Archiver creates an archiver uploading through putter
func NewS3Archiver(putter ObjectPutter, config S3ArchiverConfig, logger *observability.Logger) *S3Archiver {
	if config.MaxBatch <= 0 {
		config.MaxBatch = 5000
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &S3Archiver{
		putter:   putter,
		prefix:   config.Prefix,
		maxBatch: config.MaxBatch,
		logger:   logger,
		now:      time.Now,
	}
}

// Write implements Writer
func (a *S3Archiver) Write(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("audit archiver is closed")
	}
	a.buf.Write(line)
	a.buf.WriteByte('\n')
	a.count++
	full := a.count >= a.maxBatch
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Flush uploads the buffered batch. An empty buffer is a no-op. On upload
// failure the batch is put back so the next flush retries it.
func (a *S3Archiver) Flush(ctx context.Context) error {
	a.uploadMu.Lock()
	defer a.uploadMu.Unlock()

	a.mu.Lock()
	if a.count == 0 {
		a.mu.Unlock()
		return nil
	}
	data := append([]byte(nil), a.buf.Bytes()...)
	count := a.count
	a.buf.Reset()
	a.count = 0
	a.mu.Unlock()

	key := a.objectKey()
	if err := a.putter.PutObject(ctx, key, data, "application/x-ndjson"); err != nil {
		a.mu.Lock()
		pending := append([]byte(nil), a.buf.Bytes()...)
		a.buf.Reset()
		a.buf.Write(data)
		a.buf.Write(pending)
		a.count += count
		a.mu.Unlock()
		return fmt.Errorf("failed to archive audit batch: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":     key,
		"records": count,
	}).Info("Archived audit batch")
	return nil
}

func (a *S3Archiver) objectKey() string {
	now := a.now().UTC()
	name := fmt.Sprintf("%s-%s.jsonl", now.Format("20060102T150405Z"), uuid.New().String())
	return path.Join(a.prefix, now.Format("2006/01/02"), name)
}

// Pending returns the number of buffered records
func (a *S3Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Schedule registers a periodic flush on c using a cron spec such as
// "@every 5m"
func (a *S3Archiver) Schedule(c *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		defer observability.RecoverPanic(a.logger, "audit archive flush")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Flush(ctx); err != nil {
			a.logger.WithError(err).Warn("Scheduled audit flush failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid audit flush schedule %q: %w", spec, err)
	}
	return id, nil
}

// Close flushes what is buffered and rejects further writes
func (a *S3Archiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := a.Flush(ctx)

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return err
}
