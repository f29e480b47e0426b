package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/watchdogai/report-engine/internal/domain"
)

// JobStore defines the interface for durable job persistence.
type JobStore interface {
	// Create inserts a pending job.
	// Returns validation errors if the entity is invalid.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job by ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ClaimDue atomically claims the highest-priority due pending job
	// (status=pending AND next_run_at<=now, ordered by priority then
	// next_run_at) and moves it to processing, stamping last_run_at.
	// The claim MUST be a single conditional update so that two concurrent
	// workers can never claim the same job.
	// Returns ErrNoDueJobs when nothing is due.
	ClaimDue(ctx context.Context, now time.Time) (*domain.Job, error)

	// MarkCompleted transitions a processing job to completed.
	// Returns ErrJobNotFound if the job does not exist.
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// RescheduleFailure records a failed attempt that still has budget:
	// attempts is the new attempt count, the job returns to pending and
	// becomes due again at nextRunAt.
	RescheduleFailure(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRunAt time.Time) error

	// MarkFailed terminally fails a job that has exhausted its attempts.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error

	// ResetForRetry manually resets a terminal failed job back to pending
	// with attempts=0, due immediately.
	// Returns ErrJobNotFound if the job does not exist or is not failed.
	ResetForRetry(ctx context.Context, id uuid.UUID) error

	// ResetStuck returns processing jobs older than the given age to
	// pending. Used on startup to recover jobs orphaned by a crash.
	// Returns the number of jobs reset.
	ResetStuck(ctx context.Context, olderThan time.Duration) (int, error)

	// CountPending returns the current pending-queue depth, consulted by
	// the ingestion engine's backpressure check.
	CountPending(ctx context.Context) (int, error)

	// WithTx returns a JobStore bound to the given transaction.
	WithTx(tx *sql.Tx) JobStore
}
