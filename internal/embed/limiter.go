package embed

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter enforces a hard minimum interval between requests, fair
// under concurrent callers since the mutex itself serializes arrival
// order — no goroutine can jump the queue.
//
// Grounded on ferg-cod3s-conexus's mutex-guarded interval limiter and
// original_source/indexing/services/rate_limiter.py's RPM=20 default and
// 60/rpm interval formula.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	logger   *slog.Logger
}

// NewRateLimiter builds a limiter enforcing 60/rpm seconds between calls.
// rpm <= 0 falls back to the documented default of 20.
func NewRateLimiter(rpm int, logger *slog.Logger) *RateLimiter {
	if rpm <= 0 {
		rpm = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		interval: time.Duration(float64(time.Minute) / float64(rpm)),
		logger:   logger,
	}
}

// Acquire blocks until the minimum interval since the last call has
// elapsed, or ctx is cancelled. Logs a warning when it has to wait.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	wait := l.interval - now.Sub(l.last)
	if wait > 0 {
		l.logger.Warn("rate limiter enforcing wait", "wait", wait)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		now = time.Now()
	}

	l.last = now
	return nil
}

// SetRPM updates the enforced interval. A config reload does not call it:
// the running limiter keeps the interval it was constructed with.
func (l *RateLimiter) SetRPM(rpm int) {
	if rpm <= 0 {
		rpm = 20
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = time.Duration(float64(time.Minute) / float64(rpm))
}
