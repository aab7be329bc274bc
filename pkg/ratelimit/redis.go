package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// RedisConfig configures a RedisLimiter
type RedisConfig struct {
	Prefix string // Key prefix (default: ratelimit)
	// FailOpen allows requests when Redis is unreachable. When false such
	// requests fail with ErrLimiterUnavailable.
	FailOpen bool
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// RedisLimiter is a sliding window limiter shared across instances. Each key
// is a sorted set of request timestamps in milliseconds.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	failOpen bool
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client redis.UniversalClient, config RedisConfig) *RedisLimiter {
	prefix := config.Prefix
	if prefix == "" {
		prefix = "ratelimit"
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		failOpen: config.FailOpen,
		now:      time.Now,
		metrics:  config.Metrics,
		logger:   logger.WithField("component", "ratelimit"),
	}
}

func (rl *RedisLimiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// CheckAndRecord implements Checker. The prune, insert and count run in one
// MULTI transaction; an insert that pushed the key over the limit is removed
// again and the request denied.
func (rl *RedisLimiter) CheckAndRecord(ctx context.Context, key string, maxRequests int, window time.Duration) (Decision, error) {
	if err := validateLimit(maxRequests, window); err != nil {
		return Decision{}, err
	}

	d, err := rl.checkAndRecord(ctx, rl.redisKey(key), maxRequests, window)
	if err != nil {
		if rl.failOpen {
			rl.logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable, allowing request")
			d = Decision{Allowed: true, Limit: maxRequests, Remaining: maxRequests - 1}
			rl.metrics.ObserveRateLimit(true)
			return d, nil
		}
		return Decision{}, fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}

	rl.metrics.ObserveRateLimit(d.Allowed)
	return d, nil
}

func (rl *RedisLimiter) checkAndRecord(ctx context.Context, redisKey string, maxRequests int, window time.Duration) (Decision, error) {
	now := rl.now()
	nowMS := now.UnixMilli()
	cutoff := nowMS - window.Milliseconds()
	member := strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString()

	var card *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(nowMS), Member: member})
		card = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit transaction failed: %w", err)
	}

	count := int(card.Val())
	if count <= maxRequests {
		return Decision{Allowed: true, Limit: maxRequests, Remaining: maxRequests - count}, nil
	}

	// Over the limit: the denied request must not count
	if err := rl.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return Decision{}, fmt.Errorf("failed to remove denied request: %w", err)
	}

	retryAfter := window
	oldest, err := rl.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read oldest request: %w", err)
	}
	if len(oldest) > 0 {
		retryAfter = time.Duration(int64(oldest[0].Score)+window.Milliseconds()-nowMS) * time.Millisecond
	}

	return Decision{Allowed: false, Limit: maxRequests, Remaining: 0, RetryAfter: retryAfter}, nil
}

// Reset clears the window for key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.redisKey(key)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *RedisLimiter) HealthCheck(ctx context.Context) error {
	return rl.client.Ping(ctx).Err()
}
