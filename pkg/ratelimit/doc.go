// Package ratelimit implements sliding window request limits.
//
// A window keeps the timestamps of accepted requests for each key. A call to
// CheckAndRecord first forgets timestamps older than the window, denies the
// request when maxRequests remain, and otherwise records it:
//
//	d, err := limiter.CheckAndRecord(ctx, "ip:192.0.2.1", 100, time.Minute)
//	if !d.Allowed {
//		httputil.WriteRateLimited(w, d.RetryAfterSeconds())
//	}
//
// Two Checker implementations are provided. Limiter keeps windows in memory
// behind a bounded LRU index and is swept of idle keys by a cron job.
// RedisLimiter shares windows between instances using one sorted set per
// key and can fail open or closed when Redis is down.
package ratelimit
