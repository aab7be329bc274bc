package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionManager(t *testing.T) {
	t.Run("requires URL", func(t *testing.T) {
		_, err := NewConnectionManager(ConnectionConfig{}, nil, nil)
		assert.EqualError(t, err, "database URL is required")
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := NewConnectionManager(ConnectionConfig{Driver: "nope", URL: "x"}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("sqlite pool", func(t *testing.T) {
		cfg := DefaultConnectionConfig()
		cfg.Driver = "sqlite3"
		cfg.URL = ":memory:"
		cfg.MaxConns = 1

		cm, err := NewConnectionManager(cfg, nil, nil)
		require.NoError(t, err)
		defer cm.Close()

		assert.Equal(t, "sqlite3", cm.Driver())
		assert.NoError(t, cm.HealthCheck(context.Background()))
		assert.Equal(t, 1, cm.Stats().MaxOpenConnections)

		conn, err := cm.Acquire(context.Background(), "test")
		require.NoError(t, err)
		_, err = conn.ExecContext(context.Background(), "SELECT 1")
		assert.NoError(t, err)
		conn.Release()
	})
}

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 20, cfg.MaxConns)
	assert.Equal(t, 2*time.Second, cfg.SlowCheckoutThreshold)
}

func TestNewRedisClient(t *testing.T) {
	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)

		client, err := NewRedisClient(context.Background(), RedisConfig{
			URL:      "redis://" + mr.Addr(),
			PoolSize: 5,
		})
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(context.Background(), RedisConfig{URL: "::not-a-url"})
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		_, err = NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + addr, MaxRetries: 1})
		assert.Error(t, err)
	})
}
