package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/accessgate/pkg/storage/postgres"
)

// DBWriter inserts records into the audit_logs table
type DBWriter struct {
	db        *sql.DB
	timeout   time.Duration
	scopeOpts []postgres.ScopeOption
}

// DBWriterConfig configures the database writer
type DBWriterConfig struct {
	// Driver selects the DDL dialect: "postgres" or "sqlite3"
	Driver       string
	Timeout      time.Duration
	ScopeOptions []postgres.ScopeOption
}

var auditTableDDL = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			action VARCHAR(100) NOT NULL,
			principal VARCHAR(255) NOT NULL,
			method VARCHAR(10) NOT NULL,
			path TEXT NOT NULL,
			status INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			client_addr VARCHAR(64),
			user_agent TEXT,
			request_id VARCHAR(128),
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_principal ON audit_logs(principal)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action)`,
	},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			principal TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			client_addr TEXT,
			user_agent TEXT,
			request_id TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_principal ON audit_logs(principal)`,
	},
}

// NewDBWriter creates the writer and ensures the audit_logs table exists
func NewDBWriter(ctx context.Context, db *sql.DB, config DBWriterConfig) (*DBWriter, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if config.Driver == "" {
		config.Driver = "postgres"
	}
	ddl, ok := auditTableDDL[config.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported audit database driver: %s", config.Driver)
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}

	w := &DBWriter{
		db:        db,
		timeout:   config.Timeout,
		scopeOpts: config.ScopeOptions,
	}
	if err := w.ensureTable(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return w, nil
}

func (w *DBWriter) acquire(ctx context.Context, label string) (*postgres.ScopedConn, error) {
	opts := append(append([]postgres.ScopeOption{}, w.scopeOpts...), postgres.WithLabel(label))
	return postgres.Acquire(ctx, w.db, opts...)
}

func (w *DBWriter) ensureTable(ctx context.Context, ddl []string) error {
	conn, err := w.acquire(ctx, "audit.ensure_table")
	if err != nil {
		return err
	}
	defer conn.Release()

	for _, stmt := range ddl {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Write implements Writer. The insert is bounded by the writer timeout
// regardless of the deadline on ctx.
func (w *DBWriter) Write(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	query := `
		INSERT INTO audit_logs (
			id, timestamp, action, principal,
			method, path, status, duration_ms,
			client_addr, user_agent, request_id, error
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		)
	`

	conn, err := w.acquire(ctx, "audit.insert")
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	defer conn.Release()

	_, err = conn.ExecContext(ctx, query,
		rec.ID, rec.Timestamp.UTC(), rec.Action, rec.Principal,
		rec.Method, rec.Path, rec.Status, rec.DurationMS,
		rec.ClientAddr, rec.UserAgent, nullString(rec.RequestID), nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Close implements Writer. The database handle belongs to the caller.
func (w *DBWriter) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
