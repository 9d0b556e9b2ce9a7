// Package ratelimit paces work per borough using token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/planwatch/planwatch/internal/metrics"
)

// Limiter manages one token bucket per borough key. The first Wait on a key
// passes immediately; subsequent Waits are spaced at least Interval apart.
// This is the politeness layer between keyword searches, independent of the
// portal client's own per-domain throttle.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// New creates a Limiter enforcing the given minimum interval per key.
// A non-positive interval disables pacing.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Wait blocks until the key's bucket yields a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.interval <= 0 {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacingDelay(key, waited)
	}
	return nil
}
