package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// AsyncSinkConfig configures an AsyncSink
type AsyncSinkConfig struct {
	BufferSize   int
	Workers      int
	WriteTimeout time.Duration
}

// DefaultAsyncSinkConfig returns the default queue sizing
func DefaultAsyncSinkConfig() AsyncSinkConfig {
	return AsyncSinkConfig{
		BufferSize:   1024,
		Workers:      2,
		WriteTimeout: 5 * time.Second,
	}
}

// AsyncSink queues records on a bounded channel drained by a fixed pool of
// workers. When the queue is full the record is dropped and counted.
type AsyncSink struct {
	writer  Writer
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	queue chan Record
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts the worker pool. A nil logger is replaced with a
// no-op logger; metrics may be nil.
func NewAsyncSink(writer Writer, config AsyncSinkConfig, logger *observability.Logger, metrics *observability.Metrics) *AsyncSink {
	defaults := DefaultAsyncSinkConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	s := &AsyncSink{
		writer:  writer,
		logger:  logger,
		metrics: metrics,
		timeout: config.WriteTimeout,
		queue:   make(chan Record, config.BufferSize),
	}

	for i := 0; i < config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// Record enqueues rec. It never blocks.
func (s *AsyncSink) Record(rec Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.metrics.ObserveAudit("dropped")
		return
	}

	select {
	case s.queue <- rec:
		s.metrics.SetAuditQueueDepth(len(s.queue))
	default:
		s.metrics.ObserveAudit("dropped")
		s.logger.WithField("action", rec.Action).Warn("Audit queue full, dropping record")
	}
}

func (s *AsyncSink) worker(id int) {
	defer s.wg.Done()

	for rec := range s.queue {
		s.write(id, rec)
		s.metrics.SetAuditQueueDepth(len(s.queue))
	}
}

func (s *AsyncSink) write(id int, rec Record) {
	defer observability.RecoverPanic(s.logger.WithField("worker", id), "audit writer")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.writer.Write(ctx, rec); err != nil {
		s.metrics.ObserveAudit("failed")
		s.logger.WithError(err).WithField("action", rec.Action).Warn("Failed to write audit record")
		return
	}
	s.metrics.ObserveAudit("written")
}

// Close stops accepting records, drains the queue and closes the writer. If
// ctx expires first the remaining records are abandoned.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
	case <-ctx.Done():
		drainErr = fmt.Errorf("audit queue not drained: %w", ctx.Err())
	}

	if err := s.writer.Close(); err != nil {
		return errors.Join(drainErr, fmt.Errorf("failed to close audit writer: %w", err))
	}
	return drainErr
}
