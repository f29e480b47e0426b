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

// PostgresFailedEmailStore implements the store.FailedEmailStore interface
// using a PostgreSQL database as the storage backend.
type PostgresFailedEmailStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresFailedEmailStore creates a new PostgreSQL implementation of the
// FailedEmailStore interface. If logger is nil, a default logger will be used.
func NewPostgresFailedEmailStore(db store.DBTX, logger *slog.Logger) *PostgresFailedEmailStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresFailedEmailStore{
		db:     db,
		logger: logger.With(slog.String("component", "failed_email_store")),
	}
}

// Ensure PostgresFailedEmailStore implements store.FailedEmailStore interface
var _ store.FailedEmailStore = (*PostgresFailedEmailStore)(nil)

const failedEmailColumns = `id, vendor, message_id, subject, from_address, received_date,
	error_message, error_stack, retry_count, max_retries, next_retry_at, status,
	raw_content, created_at, updated_at`

// Create implements store.FailedEmailStore.Create
// Returns validation errors from the domain FailedEmail if data is invalid.
func (s *PostgresFailedEmailStore) Create(ctx context.Context, fe *domain.FailedEmail) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := fe.Validate(); err != nil {
		log.Warn("failed email validation failed during create",
			slog.String("error", err.Error()),
			slog.String("failed_email_id", fe.ID.String()))
		return err
	}

	query := `
		INSERT INTO failed_emails (` + failedEmailColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		fe.ID,
		fe.Vendor,
		fe.MessageID,
		fe.Subject,
		fe.From,
		fe.ReceivedDate,
		fe.ErrorMessage,
		fe.ErrorStack,
		fe.RetryCount,
		fe.MaxRetries,
		fe.NextRetryAt,
		fe.Status,
		fe.RawContent,
		fe.CreatedAt,
		fe.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create failed email archive row",
			slog.String("error", err.Error()),
			slog.String("failed_email_id", fe.ID.String()),
			slog.String("vendor", fe.Vendor))
		return MapError(err)
	}

	log.Info("failed email archived",
		slog.String("failed_email_id", fe.ID.String()),
		slog.String("vendor", fe.Vendor),
		slog.String("status", string(fe.Status)))
	return nil
}

// Update implements store.FailedEmailStore.Update
// Returns store.ErrFailedEmailNotFound if the row does not exist.
func (s *PostgresFailedEmailStore) Update(ctx context.Context, fe *domain.FailedEmail) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE failed_emails
		SET error_message = $1, retry_count = $2, next_retry_at = $3,
		    status = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		fe.ErrorMessage,
		fe.RetryCount,
		fe.NextRetryAt,
		fe.Status,
		fe.UpdatedAt,
		fe.ID,
	)
	if err != nil {
		log.Error("failed to update failed email",
			slog.String("error", err.Error()),
			slog.String("failed_email_id", fe.ID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("failed_email_id", fe.ID.String()))
		return err
	}
	if rowsAffected == 0 {
		return store.ErrFailedEmailNotFound
	}
	return nil
}

// GetByID implements store.FailedEmailStore.GetByID
// Returns store.ErrFailedEmailNotFound if the row does not exist.
func (s *PostgresFailedEmailStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.FailedEmail, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + failedEmailColumns + ` FROM failed_emails WHERE id = $1`

	fe, err := scanFailedEmail(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrFailedEmailNotFound
		}
		log.Error("failed to get failed email by ID",
			slog.String("error", err.Error()),
			slog.String("failed_email_id", id.String()))
		return nil, MapError(err)
	}
	return fe, nil
}

// ListDueForRetry implements store.FailedEmailStore.ListDueForRetry
func (s *PostgresFailedEmailStore) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.FailedEmail, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + failedEmailColumns + `
		FROM failed_emails
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, domain.FailedEmailStatusRetryScheduled, now, limit)
	if err != nil {
		log.Error("failed to list failed emails due for retry", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var due []*domain.FailedEmail
	for rows.Next() {
		fe, err := scanFailedEmail(rows)
		if err != nil {
			log.Error("failed to scan failed email row", slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		due = append(due, fe)
	}
	if err := rows.Err(); err != nil {
		log.Error("error after scanning rows", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	if due == nil {
		due = []*domain.FailedEmail{}
	}
	return due, nil
}

// Delete implements store.FailedEmailStore.Delete
// Returns store.ErrFailedEmailNotFound if the row does not exist.
func (s *PostgresFailedEmailStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM failed_emails WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete failed email",
			slog.String("error", err.Error()),
			slog.String("failed_email_id", id.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrFailedEmailNotFound
	}
	return nil
}

// WithTx implements store.FailedEmailStore.WithTx
// It returns a new FailedEmailStore instance using the provided transaction.
func (s *PostgresFailedEmailStore) WithTx(tx *sql.Tx) store.FailedEmailStore {
	return &PostgresFailedEmailStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFailedEmail(row rowScanner) (*domain.FailedEmail, error) {
	var fe domain.FailedEmail
	var status string
	err := row.Scan(
		&fe.ID,
		&fe.Vendor,
		&fe.MessageID,
		&fe.Subject,
		&fe.From,
		&fe.ReceivedDate,
		&fe.ErrorMessage,
		&fe.ErrorStack,
		&fe.RetryCount,
		&fe.MaxRetries,
		&fe.NextRetryAt,
		&status,
		&fe.RawContent,
		&fe.CreatedAt,
		&fe.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	fe.Status = domain.FailedEmailStatus(status)
	return &fe, nil
}
