package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrReportNotFound is returned when an ingestion run matches no
	// messages or no valid attachments. It is an expected outcome, not
	// an operational failure: it is never alerted and callers may choose
	// not to count it as a circuit-breaker failure signal.
	ErrReportNotFound = errors.New("no matching report emails found")

	// ErrRateLimitExceeded is returned when a rate-limited operation is
	// over budget and the caller declined to wait (or the wait expired).
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBackpressure is returned when the pending job queue depth is over
	// the configured threshold and new ingestion work is refused.
	ErrBackpressure = errors.New("queue backpressure: pending depth over threshold")

	// ErrCircuitOpen is returned when a circuit breaker rejects a call
	// without invoking the wrapped function.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrWorkflowLocked signals that a workflow run was skipped because
	// another worker currently holds the workflow lock.
	ErrWorkflowLocked = errors.New("workflow is locked by another worker")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")
)

// IsTerminal reports whether the error is a terminal condition that
// retry wrappers must not burn backoff budget on. Connection and auth
// failures are transient and retryable; an empty mailbox, an exhausted
// rate budget, an open breaker, or queue backpressure will not be cured
// by retrying the same call.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrReportNotFound) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrBackpressure) ||
		errors.Is(err, ErrCircuitOpen)
}
