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

// PostgresScheduleStore implements the store.ScheduleStore interface
// using a PostgreSQL database as the storage backend.
type PostgresScheduleStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresScheduleStore creates a new PostgreSQL implementation of the
// ScheduleStore interface. If logger is nil, a default logger will be used.
func NewPostgresScheduleStore(db store.DBTX, logger *slog.Logger) *PostgresScheduleStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresScheduleStore{
		db:     db,
		logger: logger.With(slog.String("component", "schedule_store")),
	}
}

// Ensure PostgresScheduleStore implements store.ScheduleStore interface
var _ store.ScheduleStore = (*PostgresScheduleStore)(nil)

const scheduleColumns = `id, workflow_id, intent, platform, cron_expr, next_run_at,
	last_run_at, status, retry_count, enabled, created_at, updated_at`

// Create implements store.ScheduleStore.Create
// Returns validation errors from the domain Schedule if data is invalid.
func (s *PostgresScheduleStore) Create(ctx context.Context, sched *domain.Schedule) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := sched.Validate(); err != nil {
		log.Warn("schedule validation failed during create",
			slog.String("error", err.Error()),
			slog.String("schedule_id", sched.ID.String()))
		return err
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		sched.ID,
		sched.WorkflowID,
		sched.Intent,
		sched.Platform,
		sched.CronExpr,
		sched.NextRunAt,
		sched.LastRunAt,
		sched.Status,
		sched.RetryCount,
		sched.Enabled,
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create schedule",
			slog.String("error", err.Error()),
			slog.String("schedule_id", sched.ID.String()))
		return MapError(err)
	}

	log.Info("schedule created",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("cron_expr", sched.CronExpr))
	return nil
}

// GetByID implements store.ScheduleStore.GetByID
// Returns store.ErrScheduleNotFound if the schedule does not exist.
func (s *PostgresScheduleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrScheduleNotFound
		}
		log.Error("failed to get schedule by ID",
			slog.String("error", err.Error()),
			slog.String("schedule_id", id.String()))
		return nil, MapError(err)
	}
	return sched, nil
}

// ListDue implements store.ScheduleStore.ListDue
func (s *PostgresScheduleStore) ListDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE enabled = TRUE AND status = $1
		  AND next_run_at IS NOT NULL AND next_run_at <= $2
		ORDER BY next_run_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, domain.ScheduleStatusActive, now)
	if err != nil {
		log.Error("failed to list due schedules", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var due []*domain.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			log.Error("failed to scan schedule row", slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		due = append(due, sched)
	}
	if err := rows.Err(); err != nil {
		log.Error("error after scanning rows", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	if due == nil {
		due = []*domain.Schedule{}
	}
	return due, nil
}

// Update implements store.ScheduleStore.Update
// Returns store.ErrScheduleNotFound if the schedule does not exist.
func (s *PostgresScheduleStore) Update(ctx context.Context, sched *domain.Schedule) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE schedules
		SET workflow_id = $1, next_run_at = $2, last_run_at = $3, status = $4,
		    retry_count = $5, enabled = $6, updated_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		sched.WorkflowID,
		sched.NextRunAt,
		sched.LastRunAt,
		sched.Status,
		sched.RetryCount,
		sched.Enabled,
		sched.UpdatedAt,
		sched.ID,
	)
	if err != nil {
		log.Error("failed to update schedule",
			slog.String("error", err.Error()),
			slog.String("schedule_id", sched.ID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrScheduleNotFound
	}
	return nil
}

// WithTx implements store.ScheduleStore.WithTx
// It returns a new ScheduleStore instance using the provided transaction.
func (s *PostgresScheduleStore) WithTx(tx *sql.Tx) store.ScheduleStore {
	return &PostgresScheduleStore{
		db:     tx,
		logger: s.logger,
	}
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var sched domain.Schedule
	var status string
	err := row.Scan(
		&sched.ID,
		&sched.WorkflowID,
		&sched.Intent,
		&sched.Platform,
		&sched.CronExpr,
		&sched.NextRunAt,
		&sched.LastRunAt,
		&status,
		&sched.RetryCount,
		&sched.Enabled,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sched.Status = domain.ScheduleStatus(status)
	return &sched, nil
}
