package audit

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// MultiWriter fans each record out to several writers concurrently. Every
// writer is attempted even when another fails; the failures are joined.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a writer over writers
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write implements Writer
func (m *MultiWriter) Write(ctx context.Context, rec Record) error {
	switch len(m.writers) {
	case 0:
		return nil
	case 1:
		return m.writers[0].Write(ctx, rec)
	}

	errs := make([]error, len(m.writers))
	var eg errgroup.Group
	for i, w := range m.writers {
		i, w := i, w
		eg.Go(func() error {
			errs[i] = w.Write(ctx, rec)
			return nil
		})
	}
	eg.Wait()
	return errors.Join(errs...)
}

// Close closes every writer
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
