package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	// Driver is "postgres" in production; "sqlite3" is accepted for local runs
	// when the binary is built with the sqlite driver registered
	Driver      string
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	// SlowCheckoutThreshold is how long a scoped connection may be held
	// before Release logs a warning
	SlowCheckoutThreshold time.Duration
}

// DefaultConnectionConfig returns pool settings suitable for a single service instance
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Driver:                "postgres",
		MaxConns:              20,
		MinConns:              2,
		Timeout:               5 * time.Second,
		MaxLifetime:           30 * time.Minute,
		MaxIdleTime:           5 * time.Minute,
		SlowCheckoutThreshold: 2 * time.Second,
	}
}

// ConnectionManager owns the database pool backing the role registry and
// the audit DB writer
type ConnectionManager struct {
	db      *sql.DB
	config  ConnectionConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewConnectionManager opens and pings the database
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger, metrics *observability.Metrics) (*ConnectionManager, error) {
	if config.Driver == "" {
		config.Driver = "postgres"
	}
	if config.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	db, err := sql.Open(config.Driver, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithField("driver", config.Driver).Info("Database connection pool initialized")

	return &ConnectionManager{
		db:      db,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// DB returns the pooled database handle
func (cm *ConnectionManager) DB() *sql.DB {
	return cm.db
}

// Driver returns the configured driver name
func (cm *ConnectionManager) Driver() string {
	return cm.config.Driver
}

// ScopeOptions returns the options every scoped acquisition from this pool uses
func (cm *ConnectionManager) ScopeOptions() []ScopeOption {
	return []ScopeOption{
		WithLogger(cm.logger),
		WithMetrics(cm.metrics),
		WithSlowThreshold(cm.config.SlowCheckoutThreshold),
	}
}

// Acquire checks out a dedicated connection. Callers must defer Release.
func (cm *ConnectionManager) Acquire(ctx context.Context, label string) (*ScopedConn, error) {
	opts := append(cm.ScopeOptions(), WithLabel(label))
	return Acquire(ctx, cm.db, opts...)
}

// HealthCheck pings the database
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

// Stats returns pool statistics and refreshes the pool gauges
func (cm *ConnectionManager) Stats() sql.DBStats {
	stats := cm.db.Stats()
	cm.metrics.SetDBPool(stats.InUse, stats.Idle)
	return stats
}

// Close closes the pool
func (cm *ConnectionManager) Close() error {
	return cm.db.Close()
}
