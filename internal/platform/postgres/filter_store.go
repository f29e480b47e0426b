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

// PostgresFilterStore implements the store.FilterStore interface
// using a PostgreSQL database as the storage backend.
type PostgresFilterStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresFilterStore creates a new PostgreSQL implementation of the FilterStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresFilterStore(db store.DBTX, logger *slog.Logger) *PostgresFilterStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresFilterStore{
		db:     db,
		logger: logger.With(slog.String("component", "filter_store")),
	}
}

// Ensure PostgresFilterStore implements store.FilterStore interface
var _ store.FilterStore = (*PostgresFilterStore)(nil)

// GetActiveFilter implements store.FilterStore.GetActiveFilter
// Returns store.ErrFilterNotFound if the vendor has no active filter.
func (s *PostgresFilterStore) GetActiveFilter(ctx context.Context, vendor string) (*domain.IngestionFilter, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, vendor, from_address, subject_regex, days_back, file_pattern,
		       active, last_used, created_at, updated_at
		FROM imap_filters
		WHERE vendor = $1 AND active = TRUE
	`

	var f domain.IngestionFilter
	err := s.db.QueryRowContext(ctx, query, vendor).Scan(
		&f.ID,
		&f.Vendor,
		&f.FromAddress,
		&f.SubjectRegex,
		&f.DaysBack,
		&f.FilePattern,
		&f.Active,
		&f.LastUsed,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("no active filter for vendor", slog.String("vendor", vendor))
			return nil, store.ErrFilterNotFound
		}
		log.Error("failed to get active filter",
			slog.String("error", err.Error()),
			slog.String("vendor", vendor))
		return nil, MapError(err)
	}

	return &f, nil
}

// ListActiveFilters implements store.FilterStore.ListActiveFilters
func (s *PostgresFilterStore) ListActiveFilters(ctx context.Context) ([]*domain.IngestionFilter, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, vendor, from_address, subject_regex, days_back, file_pattern,
		       active, last_used, created_at, updated_at
		FROM imap_filters
		WHERE active = TRUE
		ORDER BY vendor
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to list active filters", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var filters []*domain.IngestionFilter
	for rows.Next() {
		var f domain.IngestionFilter
		err := rows.Scan(
			&f.ID,
			&f.Vendor,
			&f.FromAddress,
			&f.SubjectRegex,
			&f.DaysBack,
			&f.FilePattern,
			&f.Active,
			&f.LastUsed,
			&f.CreatedAt,
			&f.UpdatedAt,
		)
		if err != nil {
			log.Error("failed to scan filter row", slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		filters = append(filters, &f)
	}
	if err := rows.Err(); err != nil {
		log.Error("error after scanning rows", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	if filters == nil {
		filters = []*domain.IngestionFilter{}
	}
	return filters, nil
}

// TouchLastUsed implements store.FilterStore.TouchLastUsed
// A missing row is a no-op since the default filter is never persisted.
func (s *PostgresFilterStore) TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE imap_filters
		SET last_used = $1, updated_at = $1
		WHERE id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, usedAt, id); err != nil {
		log.Error("failed to stamp filter last_used",
			slog.String("error", err.Error()),
			slog.String("filter_id", id.String()))
		return MapError(err)
	}
	return nil
}

// WithTx implements store.FilterStore.WithTx
// It returns a new FilterStore instance using the provided transaction.
func (s *PostgresFilterStore) WithTx(tx *sql.Tx) store.FilterStore {
	return &PostgresFilterStore{
		db:     tx,
		logger: s.logger,
	}
}
