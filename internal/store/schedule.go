package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/watchdogai/report-engine/internal/domain"
)

// ScheduleStore defines the interface for cron schedule persistence.
type ScheduleStore interface {
	// Create inserts a new schedule.
	// Returns validation errors if the entity is invalid.
	Create(ctx context.Context, s *domain.Schedule) error

	// GetByID retrieves a schedule by ID.
	// Returns ErrScheduleNotFound if the schedule does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)

	// ListDue returns enabled, active schedules with next_run_at at or
	// before now, oldest first.
	ListDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error)

	// Update persists schedule state (next_run_at, last_run_at, status,
	// retry_count, enabled).
	// Returns ErrScheduleNotFound if the schedule does not exist.
	Update(ctx context.Context, s *domain.Schedule) error

	// WithTx returns a ScheduleStore bound to the given transaction.
	WithTx(tx *sql.Tx) ScheduleStore
}
