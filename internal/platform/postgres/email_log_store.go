package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// PostgresEmailLogStore implements the store.EmailLogStore interface
// using a PostgreSQL database as the storage backend.
type PostgresEmailLogStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresEmailLogStore creates a new PostgreSQL implementation of the
// EmailLogStore interface. If logger is nil, a default logger will be used.
func NewPostgresEmailLogStore(db store.DBTX, logger *slog.Logger) *PostgresEmailLogStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresEmailLogStore{
		db:     db,
		logger: logger.With(slog.String("component", "email_log_store")),
	}
}

// Ensure PostgresEmailLogStore implements store.EmailLogStore interface
var _ store.EmailLogStore = (*PostgresEmailLogStore)(nil)

// Create implements store.EmailLogStore.Create
func (s *PostgresEmailLogStore) Create(ctx context.Context, el *domain.EmailLog) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	filePaths, err := json.Marshal(el.FilePaths)
	if err != nil {
		return fmt.Errorf("failed to marshal email log file paths: %w", err)
	}

	query := `
		INSERT INTO email_logs (id, vendor, message_id, subject, from_address,
			attachment_count, file_paths, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		el.ID,
		el.Vendor,
		el.MessageID,
		el.Subject,
		el.FromAddress,
		el.AttachmentCount,
		filePaths,
		el.ProcessedAt,
	)
	if err != nil {
		log.Error("failed to create email log",
			slog.String("error", err.Error()),
			slog.String("message_id", el.MessageID),
			slog.String("vendor", el.Vendor))
		return MapError(err)
	}
	return nil
}

// ExistsByMessageID implements store.EmailLogStore.ExistsByMessageID
func (s *PostgresEmailLogStore) ExistsByMessageID(ctx context.Context, vendor, messageID string) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM email_logs WHERE vendor = $1 AND message_id = $2
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, vendor, messageID).Scan(&exists); err != nil {
		log.Error("failed to check email log existence",
			slog.String("error", err.Error()),
			slog.String("message_id", messageID))
		return false, MapError(err)
	}
	return exists, nil
}

// WithTx implements store.EmailLogStore.WithTx
// It returns a new EmailLogStore instance using the provided transaction.
func (s *PostgresEmailLogStore) WithTx(tx *sql.Tx) store.EmailLogStore {
	return &PostgresEmailLogStore{
		db:     tx,
		logger: s.logger,
	}
}
