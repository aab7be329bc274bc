package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, failOpen bool) (*RedisLimiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRedisLimiter(client, RedisConfig{Prefix: "test", FailOpen: failOpen})
	clock := newFakeClock()
	rl.now = clock.Now
	return rl, mr, clock
}

func TestRedisLimiter_ThreePerMinute(t *testing.T) {
	rl, _, clock := newTestRedisLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.CheckAndRecord(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		clock.Advance(time.Second)
	}

	d, err := rl.CheckAndRecord(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 57*time.Second, d.RetryAfter)
	assert.Equal(t, 57, d.RetryAfterSeconds())

	d, err = rl.CheckAndRecord(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_DeniedRequestsAreNotStored(t *testing.T) {
	rl, mr, clock := newTestRedisLimiter(t, false)
	ctx := context.Background()

	_, err := rl.CheckAndRecord(ctx, "k", 1, 10*time.Second)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		d, err := rl.CheckAndRecord(ctx, "k", 1, 10*time.Second)
		require.NoError(t, err)
		require.False(t, d.Allowed)
	}

	members, err := mr.ZMembers("test:k")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	clock.Advance(10 * time.Second)
	d, err := rl.CheckAndRecord(ctx, "k", 1, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_SetsExpiry(t *testing.T) {
	rl, mr, _ := newTestRedisLimiter(t, false)

	_, err := rl.CheckAndRecord(context.Background(), "k", 5, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("test:k"))
}

func TestRedisLimiter_Reset(t *testing.T) {
	rl, mr, _ := newTestRedisLimiter(t, false)
	ctx := context.Background()

	_, err := rl.CheckAndRecord(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, rl.Reset(ctx, "k"))
	assert.False(t, mr.Exists("test:k"))

	d, err := rl.CheckAndRecord(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_InvalidLimit(t *testing.T) {
	rl, _, _ := newTestRedisLimiter(t, true)
	_, err := rl.CheckAndRecord(context.Background(), "k", 0, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	t.Run("fail closed", func(t *testing.T) {
		rl, mr, _ := newTestRedisLimiter(t, false)
		mr.Close()

		_, err := rl.CheckAndRecord(context.Background(), "k", 3, time.Minute)
		assert.ErrorIs(t, err, ErrLimiterUnavailable)
		assert.Error(t, rl.HealthCheck(context.Background()))
	})

	t.Run("fail open", func(t *testing.T) {
		rl, mr, _ := newTestRedisLimiter(t, true)
		mr.Close()

		d, err := rl.CheckAndRecord(context.Background(), "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestRedisLimiter_HealthCheck(t *testing.T) {
	rl, _, _ := newTestRedisLimiter(t, false)
	assert.NoError(t, rl.HealthCheck(context.Background()))
}
