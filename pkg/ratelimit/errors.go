package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrRateLimited is wrapped by every *LimitError
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidLimit is returned for a non-positive request count or window
	ErrInvalidLimit = errors.New("invalid rate limit")

	// ErrLimiterUnavailable is returned by a fail-closed RedisLimiter when
	// Redis cannot be reached
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)

// LimitError reports a denied request and when the caller may retry
type LimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s for %s: retry after %ds", ErrRateLimited, e.Key, e.RetryAfterSeconds())
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterSeconds is the Retry-After value for the denial
func (e *LimitError) RetryAfterSeconds() int {
	return ceilSeconds(e.RetryAfter)
}

// ceilSeconds rounds d up to whole seconds with a floor of one
func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func validateLimit(maxRequests int, window time.Duration) error {
	if maxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidLimit, maxRequests)
	}
	if window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidLimit, window)
	}
	return nil
}
