// Package ratelimit caps per-user request rates with a fixed window counter
// in the session store.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/flowagencyai/wabot/internal/store"
)

const (
	DefaultMax    = 10
	DefaultWindow = time.Minute
)

// Result is the outcome of one admission check.
type Result struct {
	Blocked  bool      `json:"blocked"`
	Requests int64     `json:"requests"`
	ResetAt  time.Time `json:"resetAt"`
}

// Limiter admits up to Max requests per user per window. The window is
// fixed, not sliding: it resets entirely when the counter's TTL expires, so
// bursts straddling a window boundary can admit up to 2*Max requests. That
// approximation is deliberate; a sliding window would need a timestamped log
// per user instead of a single counter.
type Limiter struct {
	kv     store.KV
	window time.Duration

	// max is atomic: the config watcher goroutine adjusts it while the
	// pipeline worker reads it.
	max atomic.Int64

	now func() time.Time
}

func NewLimiter(kv store.KV, max int64, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{kv: kv, window: window, now: time.Now}
	l.max.Store(max)
	return l
}

// SetClock replaces the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// SetMax adjusts the per-window cap at runtime (config hot reload).
func (l *Limiter) SetMax(max int64) {
	if max > 0 {
		l.max.Store(max)
	}
}

// CheckAndIncrement counts this request and reports whether the user is over
// the cap. The store increment is atomic, so concurrent requests cannot
// lose counts. Store failures propagate; the pipeline treats them as
// blocked (fail closed) so an outage never uncaps traffic.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID string) (Result, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return Result{}, err
	}

	count, expiresIn, err := l.kv.Increment(ctx, store.Key(userID, store.KindRateLimit), l.window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit: %w", err)
	}
	// ResetAt uses the limiter's clock so it stays consistent with the
	// store-reported remaining window.
	return Result{
		Blocked:  count > l.max.Load(),
		Requests: count,
		ResetAt:  l.now().Add(expiresIn),
	}, nil
}
