package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

const jobColumns = `id, task_id, payload, priority, status, attempts, max_attempts,
	last_error, next_run_at, last_run_at, created_at, updated_at`

// Create implements store.JobStore.Create
// Returns validation errors from the domain Job if data is invalid.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.TaskID,
		job.Payload,
		job.Priority,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.LastError,
		job.NextRunAt,
		job.LastRunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()),
			slog.String("task_id", job.TaskID))
		return MapError(err)
	}

	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("task_id", job.TaskID),
		slog.Int("priority", job.Priority))
	return nil
}

// GetByID implements store.JobStore.GetByID
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job by ID",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, MapError(err)
	}
	return job, nil
}

// ClaimDue implements store.JobStore.ClaimDue
// The claim is a single conditional UPDATE over a SKIP LOCKED subquery, so
// two workers polling concurrently can never claim the same row.
// Returns store.ErrNoDueJobs when nothing is due.
func (s *PostgresJobStore) ClaimDue(ctx context.Context, now time.Time) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, last_run_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $3 AND next_run_at <= $2
			ORDER BY priority ASC, next_run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(
		ctx,
		query,
		domain.JobStatusProcessing,
		now,
		domain.JobStatusPending,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoDueJobs
		}
		log.Error("failed to claim due job", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	log.Debug("claimed job",
		slog.String("job_id", job.ID.String()),
		slog.String("task_id", job.TaskID))
	return job, nil
}

// MarkCompleted implements store.JobStore.MarkCompleted
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, last_error = '', updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to mark job completed",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}
	if err := checkJobAffected(result); err != nil {
		return err
	}

	log.Info("job completed", slog.String("job_id", id.String()))
	return nil
}

// RescheduleFailure implements store.JobStore.RescheduleFailure
// The job returns to pending with the new attempt count and becomes due at
// nextRunAt.
func (s *PostgresJobStore) RescheduleFailure(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRunAt time.Time) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, attempts = $2, last_error = $3, next_run_at = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.JobStatusPending,
		attempts,
		lastError,
		nextRunAt,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		log.Error("failed to reschedule job",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}
	if err := checkJobAffected(result); err != nil {
		return err
	}

	log.Warn("job attempt failed, rescheduled",
		slog.String("job_id", id.String()),
		slog.Int("attempts", attempts),
		slog.Time("next_run_at", nextRunAt))
	return nil
}

// MarkFailed implements store.JobStore.MarkFailed
// Terminal: the job will never run again without a manual reset.
func (s *PostgresJobStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.JobStatusFailed,
		attempts,
		lastError,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		log.Error("failed to mark job failed",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}
	if err := checkJobAffected(result); err != nil {
		return err
	}

	log.Error("job failed terminally",
		slog.String("job_id", id.String()),
		slog.Int("attempts", attempts),
		slog.String("last_error", lastError))
	return nil
}

// ResetForRetry implements store.JobStore.ResetForRetry
// Only terminally failed jobs can be reset; a pending or processing job is
// reported as not found.
func (s *PostgresJobStore) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, attempts = 0, last_error = '', next_run_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.JobStatusPending,
		time.Now().UTC(),
		id,
		domain.JobStatusFailed,
	)
	if err != nil {
		log.Error("failed to reset job for retry",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}
	if err := checkJobAffected(result); err != nil {
		return err
	}

	log.Info("failed job reset for retry", slog.String("job_id", id.String()))
	return nil
}

// ResetStuck implements store.JobStore.ResetStuck
// Returns processing jobs whose last run started more than olderThan ago to
// pending. Run at startup to recover jobs orphaned by a crashed worker.
func (s *PostgresJobStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	cutoff := time.Now().UTC().Add(-olderThan)
	query := `
		UPDATE jobs
		SET status = $1, updated_at = $2
		WHERE status = $3 AND last_run_at IS NOT NULL AND last_run_at < $4
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.JobStatusPending,
		time.Now().UTC(),
		domain.JobStatusProcessing,
		cutoff,
	)
	if err != nil {
		log.Error("failed to reset stuck jobs", slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rowsAffected > 0 {
		log.Warn("reset stuck jobs to pending", slog.Int64("count", rowsAffected))
	}
	return int(rowsAffected), nil
}

// CountPending implements store.JobStore.CountPending
func (s *PostgresJobStore) CountPending(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var count int
	query := `SELECT COUNT(*) FROM jobs WHERE status = $1`
	if err := s.db.QueryRowContext(ctx, query, domain.JobStatusPending).Scan(&count); err != nil {
		log.Error("failed to count pending jobs", slog.String("error", err.Error()))
		return 0, MapError(err)
	}
	return count, nil
}

// WithTx implements store.JobStore.WithTx
// It returns a new JobStore instance using the provided transaction.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

func checkJobAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	err := row.Scan(
		&job.ID,
		&job.TaskID,
		&job.Payload,
		&job.Priority,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastError,
		&job.NextRunAt,
		&job.LastRunAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}
