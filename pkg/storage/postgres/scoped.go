package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// ScopedConn is a connection checked out of the pool for one unit of work.
// It remembers when it was acquired and the last statement it ran so a slow
// or leaked checkout can be reported on Release. Always pair Acquire with
// defer Release.
type ScopedConn struct {
	conn       *sql.Conn
	acquiredAt time.Time
	label      string
	threshold  time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu            sync.Mutex
	lastStatement string
	released      bool
}

// ScopeOption configures a scoped acquisition
type ScopeOption func(*ScopedConn)

// WithLogger sets the logger used for slow checkout warnings
func WithLogger(logger *observability.Logger) ScopeOption {
	return func(c *ScopedConn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics counts slow checkouts
func WithMetrics(metrics *observability.Metrics) ScopeOption {
	return func(c *ScopedConn) {
		c.metrics = metrics
	}
}

// WithSlowThreshold sets the hold duration after which Release warns.
// Zero disables the warning.
func WithSlowThreshold(d time.Duration) ScopeOption {
	return func(c *ScopedConn) {
		c.threshold = d
	}
}

// WithLabel names the unit of work in log output
func WithLabel(label string) ScopeOption {
	return func(c *ScopedConn) {
		c.label = label
	}
}

// withClock overrides the time source; used by tests
func withClock(now func() time.Time) ScopeOption {
	return func(c *ScopedConn) {
		c.now = now
	}
}

// Acquire checks out a dedicated connection from db
func Acquire(ctx context.Context, db *sql.DB, opts ...ScopeOption) (*ScopedConn, error) {
	c := &ScopedConn{
		logger: observability.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	c.conn = conn
	c.acquiredAt = c.now()
	return c, nil
}

// AcquiredAt returns when the connection was checked out
func (c *ScopedConn) AcquiredAt() time.Time {
	return c.acquiredAt
}

// LastStatement returns the most recent statement run on this connection
func (c *ScopedConn) LastStatement() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatement
}

func (c *ScopedConn) record(query string) {
	c.mu.Lock()
	c.lastStatement = strings.Join(strings.Fields(query), " ")
	c.mu.Unlock()
}

// ExecContext runs a statement on the scoped connection
func (c *ScopedConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	c.record(query)
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the scoped connection
func (c *ScopedConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	c.record(query)
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the scoped connection
func (c *ScopedConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	c.record(query)
	return c.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction whose statements are tracked by this connection
func (c *ScopedConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*ScopedTx, error) {
	c.record("BEGIN")
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &ScopedTx{tx: tx, conn: c}, nil
}

// Release returns the connection to the pool. It is safe to call more than once.
func (c *ScopedConn) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	last := c.lastStatement
	c.mu.Unlock()

	held := c.now().Sub(c.acquiredAt)
	if c.threshold > 0 && held > c.threshold {
		c.metrics.IncSlowCheckout()
		c.logger.WithFields(map[string]interface{}{
			"label":          c.label,
			"held_ms":        held.Milliseconds(),
			"last_statement": last,
		}).Warn("Database connection held longer than threshold")
	}

	if err := c.conn.Close(); err != nil {
		c.logger.WithError(err).WithField("label", c.label).Error("Failed to release database connection")
	}
}

// ScopedTx is a transaction on a ScopedConn
type ScopedTx struct {
	tx   *sql.Tx
	conn *ScopedConn
}

// ExecContext runs a statement inside the transaction
func (t *ScopedTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	t.conn.record(query)
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction
func (t *ScopedTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	t.conn.record(query)
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction
func (t *ScopedTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	t.conn.record(query)
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Commit commits the transaction
func (t *ScopedTx) Commit() error {
	t.conn.record("COMMIT")
	return t.tx.Commit()
}

// Rollback aborts the transaction. Rolling back a finished transaction
// returns sql.ErrTxDone.
func (t *ScopedTx) Rollback() error {
	t.conn.record("ROLLBACK")
	return t.tx.Rollback()
}
