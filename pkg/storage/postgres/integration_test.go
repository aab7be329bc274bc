//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *ConnectionManager {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("accessgate"),
		tcpostgres.WithUsername("accessgate"),
		tcpostgres.WithPassword("accessgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := DefaultConnectionConfig()
	cfg.URL = dsn
	cm, err := NewConnectionManager(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })
	return cm
}

func TestScopedConn_Postgres(t *testing.T) {
	cm := setupPostgres(t)
	ctx := context.Background()

	conn, err := cm.Acquire(ctx, "integration")
	require.NoError(t, err)
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `CREATE TABLE scratch (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	var id int64
	require.NoError(t, tx.QueryRowContext(ctx, `INSERT INTO scratch (name) VALUES ($1) RETURNING id`, "one").Scan(&id))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(1), id)
	assert.Equal(t, "COMMIT", conn.LastStatement())
}
