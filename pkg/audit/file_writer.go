package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileWriter appends records as JSON lines and rotates the file once it
// reaches MaxSize. Rotated files are named <base>-<timestamp><ext> next to
// the live file and only the newest MaxFiles are kept.
type FileWriter struct {
	path     string
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	size     int64
	maxSize  int64
	maxFiles int
	now      func() time.Time
}

// FileWriterConfig configures the file writer
type FileWriterConfig struct {
	Path     string // Live file, e.g. /var/log/accessgate/audit.log
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// NewFileWriter opens (or creates) the live audit file
func NewFileWriter(config FileWriterConfig) (*FileWriter, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	w := &FileWriter{
		path:     filepath.Clean(config.Path),
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		now:      time.Now,
	}
	if w.maxSize <= 0 {
		w.maxSize = 100 * 1024 * 1024 // 100MB default
	}
	if w.maxFiles <= 0 {
		w.maxFiles = 10
	}

	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}

	w.file = file
	w.encoder = json.NewEncoder(countingWriter{w})
	w.size = info.Size()
	return nil
}

// countingWriter tracks bytes written so rotation needs no extra stat calls
type countingWriter struct {
	w *FileWriter
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.file.Write(p)
	c.w.size += int64(n)
	return n, err
}

func (w *FileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	w.file = nil

	ext := filepath.Ext(w.path)
	base := strings.TrimSuffix(w.path, ext)
	rotated := fmt.Sprintf("%s-%s%s", base, w.now().UTC().Format("20060102T150405.000000000"), ext)
	if err := os.Rename(w.path, rotated); err != nil {
		// keep appending to the oversized file rather than losing records
		if openErr := w.open(); openErr != nil {
			return openErr
		}
		return fmt.Errorf("failed to rename audit log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	return w.cleanup(base, ext)
}

// cleanup removes rotated files beyond the retention limit. The timestamp
// format sorts lexically, so the oldest files come first.
func (w *FileWriter) cleanup(base, ext string) error {
	files, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return fmt.Errorf("failed to list rotated audit logs: %w", err)
	}
	if len(files) <= w.maxFiles {
		return nil
	}

	sort.Strings(files)
	for _, file := range files[:len(files)-w.maxFiles] {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old audit log %s: %w", file, err)
		}
	}
	return nil
}

// Write implements Writer
func (w *FileWriter) Write(_ context.Context, rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("audit file writer is closed")
	}
	var rotateErr error
	if w.size >= w.maxSize {
		rotateErr = w.rotate()
		if w.file == nil {
			return rotateErr
		}
	}

	if err := w.encoder.Encode(rec); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return rotateErr
}

// Close implements Writer
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
