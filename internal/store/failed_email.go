package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/watchdogai/report-engine/internal/domain"
)

// FailedEmailStore defines the interface for the failed-message archive.
type FailedEmailStore interface {
	// Create archives an unprocessable email.
	// Returns validation errors if the entity is invalid.
	Create(ctx context.Context, fe *domain.FailedEmail) error

	// Update persists retry bookkeeping (retry_count, next_retry_at, status).
	// Returns ErrFailedEmailNotFound if the row does not exist.
	Update(ctx context.Context, fe *domain.FailedEmail) error

	// GetByID retrieves an archived email by ID.
	// Returns ErrFailedEmailNotFound if the row does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FailedEmail, error)

	// ListDueForRetry returns rows in retry_scheduled status whose
	// next_retry_at is at or before now, oldest first, up to limit.
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.FailedEmail, error)

	// Delete removes an archive row, typically after successful reprocessing.
	// Returns ErrFailedEmailNotFound if the row does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a FailedEmailStore bound to the given transaction.
	WithTx(tx *sql.Tx) FailedEmailStore
}
