package resilience

import (
	"context"
	"math"
	"time"
)

// RetryOptions configures the exponential-backoff retry wrapper.
type RetryOptions struct {
	// Retries is the total number of attempts, including the first.
	Retries int

	// MinTimeout is the delay before the second attempt.
	MinTimeout time.Duration

	// MaxTimeout caps the computed backoff delay.
	MaxTimeout time.Duration

	// Factor is the exponential growth factor between delays.
	Factor float64

	// OnRetry, when set, is invoked with the failed attempt's error and
	// attempt number before the backoff delay.
	OnRetry func(err error, attempt int)

	// Retryable classifies errors. When set, an error it rejects is
	// returned immediately without consuming backoff budget. When nil,
	// every error is retried.
	Retryable func(err error) bool
}

// DefaultRetryOptions returns the retry budget used around IMAP calls:
// five attempts with 1s..60s exponential backoff.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Retries:    5,
		MinTimeout: time.Second,
		MaxTimeout: 60 * time.Second,
		Factor:     2,
	}
}

// Backoff returns the delay to sleep before the given attempt (attempt
// numbering starts at 1; the first attempt has no delay):
// min(MinTimeout * Factor^(attempt-2), MaxTimeout).
func (o RetryOptions) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(float64(o.MinTimeout) * math.Pow(o.Factor, float64(attempt-2)))
	if d > o.MaxTimeout || d < 0 {
		return o.MaxTimeout
	}
	return d
}

// Retry runs fn up to opts.Retries times, sleeping the exponential backoff
// between attempts. When the budget is exhausted the last error is returned
// unchanged so callers can still classify it with errors.Is.
func Retry(ctx context.Context, opts RetryOptions, fn func() error) error {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Factor <= 0 {
		opts.Factor = 2
	}
	if opts.MinTimeout <= 0 {
		opts.MinTimeout = time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 60 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if opts.Retryable != nil && !opts.Retryable(lastErr) {
			// Terminal error kind: fail fast, no backoff consumed.
			return lastErr
		}

		if attempt == opts.Retries {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(lastErr, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Backoff(attempt + 1)):
		}
	}
	return lastErr
}
