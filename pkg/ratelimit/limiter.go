package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// DefaultMaxKeys bounds the in-memory key index when no size is configured
const DefaultMaxKeys = 10000

// Decision is the outcome of one CheckAndRecord call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, at least one
// for a denial and zero otherwise
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	return ceilSeconds(d.RetryAfter)
}

// Err returns a *LimitError for a denial and nil otherwise
func (d Decision) Err(key string) error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Key: key, RetryAfter: d.RetryAfter}
}

// Checker is a sliding window limiter. A denied request is not counted.
type Checker interface {
	CheckAndRecord(ctx context.Context, key string, maxRequests int, window time.Duration) (Decision, error)
}

// Config configures an in-memory Limiter
type Config struct {
	MaxKeys int // Upper bound on tracked keys (default: DefaultMaxKeys)
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// keyWindow holds the request timestamps of one key, oldest first
type keyWindow struct {
	mu      sync.Mutex
	hits    []time.Time
	span    time.Duration
	removed bool
}

func (w *keyWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Limiter is an in-memory sliding window limiter. Each key has its own lock
// so keys never contend with each other beyond the index lookup. The index
// is bounded: a key is only dropped once its window is empty, and a new key
// arriving while every tracked window is live is denied.
type Limiter struct {
	mu      sync.Mutex
	keys    *lru.Cache[string, *keyWindow]
	maxKeys int
	now     func() time.Time
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewLimiter creates an in-memory limiter
func NewLimiter(config Config) (*Limiter, error) {
	maxKeys := config.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	// One spare slot so Add never evicts; admission is checked against maxKeys.
	keys, err := lru.New[string, *keyWindow](maxKeys + 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create key index: %w", err)
	}

	return &Limiter{
		keys:    keys,
		maxKeys: maxKeys,
		now:     time.Now,
		metrics: config.Metrics,
		logger:  logger.WithField("component", "ratelimit"),
	}, nil
}

// window returns the tracked window for key. When key is new and the index
// is full it returns nil and the earliest time a slot can free up.
func (l *Limiter) window(key string, span time.Duration) (*keyWindow, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.keys.Get(key); ok {
		return w, time.Time{}
	}

	if l.keys.Len() >= l.maxKeys {
		if _, freeAt := l.sweepLocked(l.now()); l.keys.Len() >= l.maxKeys {
			return nil, freeAt
		}
	}

	w := &keyWindow{span: span}
	l.keys.Add(key, w)
	l.metrics.SetRateLimitKeys(l.keys.Len())
	return w, time.Time{}
}

// CheckAndRecord drops timestamps older than window, denies when
// maxRequests remain, and otherwise records now and allows
func (l *Limiter) CheckAndRecord(_ context.Context, key string, maxRequests int, window time.Duration) (Decision, error) {
	if err := validateLimit(maxRequests, window); err != nil {
		return Decision{}, err
	}

	for {
		w, freeAt := l.window(key, window)
		if w == nil {
			d := l.overflow(maxRequests, window, freeAt)
			l.metrics.ObserveRateLimit(false)
			return d, nil
		}

		w.mu.Lock()
		if w.removed {
			// Swept between lookup and lock
			w.mu.Unlock()
			continue
		}

		d := l.decide(w, maxRequests, window)
		w.mu.Unlock()

		l.metrics.ObserveRateLimit(d.Allowed)
		return d, nil
	}
}

func (l *Limiter) overflow(maxRequests int, window time.Duration, freeAt time.Time) Decision {
	l.metrics.IncRateLimitOverflow()
	l.logger.WithField("max_keys", l.maxKeys).Debug("Rate limit key index full, denying new client")

	retry := window
	if !freeAt.IsZero() {
		if d := freeAt.Sub(l.now()); d > 0 && d < window {
			retry = d
		}
	}
	return Decision{
		Allowed:    false,
		Limit:      maxRequests,
		Remaining:  0,
		RetryAfter: retry,
	}
}

func (l *Limiter) decide(w *keyWindow, maxRequests int, window time.Duration) Decision {
	now := l.now()
	w.span = window
	w.prune(now)

	if len(w.hits) >= maxRequests {
		return Decision{
			Allowed:    false,
			Limit:      maxRequests,
			Remaining:  0,
			RetryAfter: w.hits[0].Add(window).Sub(now),
		}
	}

	w.hits = append(w.hits, now)
	return Decision{
		Allowed:   true,
		Limit:     maxRequests,
		Remaining: maxRequests - len(w.hits),
	}
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	return l.keys.Len()
}

// Sweep drops keys whose windows hold no timestamps and returns how many
// were removed
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed, _ := l.sweepLocked(l.now())
	return removed
}

// sweepLocked removes idle keys and reports the earliest moment a live
// window empties. Callers hold l.mu.
func (l *Limiter) sweepLocked(now time.Time) (int, time.Time) {
	removed := 0
	var freeAt time.Time
	for _, key := range l.keys.Keys() {
		w, ok := l.keys.Peek(key)
		if !ok {
			continue
		}

		w.mu.Lock()
		w.prune(now)
		idle := len(w.hits) == 0
		if idle {
			w.removed = true
		} else if last := w.hits[len(w.hits)-1].Add(w.span); freeAt.IsZero() || last.Before(freeAt) {
			freeAt = last
		}
		w.mu.Unlock()

		if idle {
			l.keys.Remove(key)
			removed++
		}
	}

	l.metrics.SetRateLimitKeys(l.keys.Len())
	return removed, freeAt
}

// ScheduleSweep registers Sweep on c using a cron spec such as "@every 1m"
func (l *Limiter) ScheduleSweep(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		defer observability.RecoverPanic(l.logger, "ratelimit.sweep")
		if n := l.Sweep(); n > 0 {
			l.logger.WithField("removed", n).Debug("Swept idle rate limit keys")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule rate limit sweep: %w", err)
	}
	return id, nil
}
