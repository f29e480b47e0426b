package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchdogai/report-engine/internal/domain"
)

var errBoom = errors.New("boom")

func failingCall() error { return errBoom }
func okCall() error      { return nil }

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("op", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, failingCall)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, BreakerOpen, cb.State())

	// Open breaker fails fast without invoking the call.
	invoked := false
	err := cb.Execute(ctx, func() error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, invoked, "open breaker must not invoke the call")
}

func TestCircuitBreakerFailureCountResetsOnSuccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("op", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	}, nil)

	ctx := context.Background()
	require.Error(t, cb.Execute(ctx, failingCall))
	require.Error(t, cb.Execute(ctx, failingCall))
	require.NoError(t, cb.Execute(ctx, okCall))
	require.Error(t, cb.Execute(ctx, failingCall))
	require.Error(t, cb.Execute(ctx, failingCall))

	// Only two consecutive failures since the success: still closed.
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreakerHalfOpenTrialClosesAfterSuccesses(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("op", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
	}, nil)

	ctx := context.Background()
	require.Error(t, cb.Execute(ctx, failingCall))
	require.Equal(t, BreakerOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// First trial call is admitted and succeeds: half-open, not yet closed.
	require.NoError(t, cb.Execute(ctx, okCall))
	assert.Equal(t, BreakerHalfOpen, cb.State())

	// Second consecutive success closes the breaker.
	require.NoError(t, cb.Execute(ctx, okCall))
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("op", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
	}, nil)

	ctx := context.Background()
	require.Error(t, cb.Execute(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)

	// Trial fails: breaker reopens and the cooldown restarts.
	require.ErrorIs(t, cb.Execute(ctx, failingCall), errBoom)
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, okCall), domain.ErrCircuitOpen)
}

func TestCircuitBreakerNotifiesObserverOutsideLock(t *testing.T) {
	t.Parallel()

	type transition struct {
		from, to BreakerState
	}
	var transitions []transition

	cb := NewCircuitBreaker("op", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	}, func(name string, from, to BreakerState) {
		assert.Equal(t, "op", name)
		transitions = append(transitions, transition{from, to})
	})

	ctx := context.Background()
	require.Error(t, cb.Execute(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, okCall))

	require.Len(t, transitions, 3)
	assert.Equal(t, transition{BreakerClosed, BreakerOpen}, transitions[0])
	assert.Equal(t, transition{BreakerOpen, BreakerHalfOpen}, transitions[1])
	assert.Equal(t, transition{BreakerHalfOpen, BreakerClosed}, transitions[2])
}
