package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/watchdogai/report-engine/internal/domain"
)

// limiterPollInterval is how often a waiting caller rechecks the window
// and the pause switch.
const limiterPollInterval = 20 * time.Millisecond

// LimiterConfig holds the request budget for a rate limiter.
type LimiterConfig struct {
	// MaxRequests is the number of calls admitted per window.
	MaxRequests int

	// Window is the fixed window length.
	Window time.Duration
}

// DefaultLimiterConfig returns a LimiterConfig with reasonable defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxRequests: 10,
		Window:      time.Minute,
	}
}

// RateLimiter enforces a fixed-window request budget for one named
// operation. A paused limiter blocks every call exactly as if the window
// were exhausted, regardless of occupancy; this is the backpressure switch,
// distinct from ordinary throttling. Pause and Resume are idempotent.
type RateLimiter struct {
	name   string
	config LimiterConfig

	mu          sync.Mutex
	windowStart time.Time
	count       int
	paused      bool
	pauseReason string
}

// NewRateLimiter creates a rate limiter for the named operation.
func NewRateLimiter(name string, config LimiterConfig) *RateLimiter {
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultLimiterConfig().MaxRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultLimiterConfig().Window
	}
	return &RateLimiter{
		name:        name,
		config:      config,
		windowStart: time.Now(),
	}
}

// Pause blocks all subsequent calls until Resume. Idempotent; the reason
// of the first pause wins.
func (l *RateLimiter) Pause(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused {
		return
	}
	l.paused = true
	l.pauseReason = reason
}

// Resume lifts a pause. Idempotent.
func (l *RateLimiter) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	l.pauseReason = ""
}

// Paused reports whether the limiter is currently paused and why.
func (l *RateLimiter) Paused() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused, l.pauseReason
}

// Execute runs fn once admission is granted. A call within the window
// budget proceeds immediately. A call over budget (or against a paused
// limiter) waits up to maxWait for admission when wait is true, otherwise
// it fails with domain.ErrRateLimitExceeded.
func (l *RateLimiter) Execute(ctx context.Context, wait bool, maxWait time.Duration, fn func() error) error {
	deadline := time.Now().Add(maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, reason := l.tryAcquire()
		if ok {
			return fn()
		}

		if !wait || !time.Now().Before(deadline) {
			if reason != "" {
				return fmt.Errorf("%w: operation %q paused: %s",
					domain.ErrRateLimitExceeded, l.name, reason)
			}
			return fmt.Errorf("%w: operation %q", domain.ErrRateLimitExceeded, l.name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(limiterPollInterval):
		}
	}
}

// tryAcquire consumes one slot of the current window if available. The
// second return value carries the pause reason when admission was denied
// by the backpressure switch.
func (l *RateLimiter) tryAcquire() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		reason := l.pauseReason
		if reason == "" {
			reason = "paused"
		}
		return false, reason
	}

	now := time.Now()
	if now.Sub(l.windowStart) >= l.config.Window {
		l.windowStart = now
		l.count = 0
	}

	if l.count >= l.config.MaxRequests {
		return false, ""
	}
	l.count++
	return true, ""
}
