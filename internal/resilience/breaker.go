package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/watchdogai/report-engine/internal/domain"
)

// BreakerState represents the admission state of a circuit breaker.
type BreakerState string

// Circuit breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// StateChangeFunc observes breaker state transitions. It is invoked outside
// the breaker's lock and is used to emit admin alerts.
type StateChangeFunc func(name string, from, to BreakerState)

// BreakerConfig holds the thresholds for a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the run of consecutive failures that trips a
	// closed breaker open.
	FailureThreshold int

	// SuccessThreshold is the run of consecutive half-open successes that
	// closes the breaker again.
	SuccessThreshold int

	// ResetTimeout is how long an open breaker rejects calls before
	// admitting a trial call in half-open state.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns a BreakerConfig with reasonable defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     60 * time.Second,
	}
}

// CircuitBreaker guards one named operation. When the wrapped operation
// fails FailureThreshold times in a row the breaker opens and rejects all
// calls with domain.ErrCircuitOpen until ResetTimeout elapses; the next
// call is then admitted as a trial and the breaker closes again after
// SuccessThreshold consecutive successes. A single trial failure reopens
// it and restarts the cooldown.
type CircuitBreaker struct {
	name          string
	config        BreakerConfig
	onStateChange StateChangeFunc

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	openedAt     time.Time
}

// NewCircuitBreaker creates a closed breaker for the named operation.
func NewCircuitBreaker(name string, config BreakerConfig, onStateChange StateChangeFunc) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	return &CircuitBreaker{
		name:          name,
		config:        config,
		onStateChange: onStateChange,
		state:         BreakerClosed,
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn through the breaker. An open breaker fails fast with
// domain.ErrCircuitOpen without invoking fn.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	transition, err := b.admit()
	if transition != nil {
		transition()
	}
	if err != nil {
		return err
	}

	callErr := fn()

	transition = b.record(callErr)
	if transition != nil {
		transition()
	}
	return callErr
}

// admit decides whether a call may proceed, applying the open -> half_open
// transition when the reset timeout has elapsed. It returns a deferred
// observer notification so the callback runs outside the lock.
func (b *CircuitBreaker) admit() (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.config.ResetTimeout {
			return nil, fmt.Errorf("%w: operation %q", domain.ErrCircuitOpen, b.name)
		}
		// Cooldown elapsed: admit this call as a trial.
		return b.transitionLocked(BreakerHalfOpen), nil
	default:
		return nil, nil
	}
}

// record applies the call outcome to the breaker state machine.
func (b *CircuitBreaker) record(callErr error) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		b.failureCount = 0
		if b.state == BreakerHalfOpen {
			b.successCount++
			if b.successCount >= b.config.SuccessThreshold {
				return b.transitionLocked(BreakerClosed)
			}
		}
		return nil
	}

	b.successCount = 0
	switch b.state {
	case BreakerHalfOpen:
		// One trial failure reopens the breaker and restarts the cooldown.
		b.openedAt = time.Now()
		return b.transitionLocked(BreakerOpen)
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.openedAt = time.Now()
			return b.transitionLocked(BreakerOpen)
		}
	}
	return nil
}

// transitionLocked moves the breaker to a new state, resets counters, and
// returns the observer notification to run after the lock is released.
// Must be called with b.mu held.
func (b *CircuitBreaker) transitionLocked(to BreakerState) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.failureCount = 0
	b.successCount = 0

	if b.onStateChange == nil {
		return nil
	}
	name := b.name
	cb := b.onStateChange
	return func() { cb(name, from, to) }
}
