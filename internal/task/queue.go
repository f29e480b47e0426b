package task

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// Queue is the enqueue-side service of the durable job queue.
type Queue struct {
	jobs   store.JobStore
	logger *slog.Logger
}

// NewQueue creates a Queue. If logger is nil, a default logger will be used.
func NewQueue(jobs store.JobStore, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:   jobs,
		logger: logger.With(slog.String("component", "job_queue")),
	}
}

// WithTx returns a Queue whose writes go through the given transaction.
func (q *Queue) WithTx(tx *sql.Tx) *Queue {
	return &Queue{
		jobs:   q.jobs.WithTx(tx),
		logger: q.logger,
	}
}

// Enqueue persists a new pending job due immediately. Lower priority values
// are claimed first.
func (q *Queue) Enqueue(ctx context.Context, taskID string, payload []byte, priority int) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, q.logger)

	job, err := domain.NewJob(taskID, payload, priority)
	if err != nil {
		return nil, fmt.Errorf("failed to build job: %w", err)
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debug("job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("task_id", taskID),
		slog.Int("priority", priority))
	return job, nil
}

// RetryJob manually resets a terminally failed job back to pending with a
// fresh attempt budget, due immediately.
// Returns store.ErrJobNotFound if the job does not exist or is not failed.
func (q *Queue) RetryJob(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, q.logger)

	if err := q.jobs.ResetForRetry(ctx, id); err != nil {
		return err
	}
	log.Info("failed job manually reset", slog.String("job_id", id.String()))
	return nil
}

// Depth returns the current pending-queue depth.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.jobs.CountPending(ctx)
}
