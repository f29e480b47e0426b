package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/watchdogai/report-engine/internal/domain"
)

// FilterStore defines the interface for ingestion filter persistence.
// Filters are written by an administrative collaborator; the engine only
// reads them and stamps LastUsed.
type FilterStore interface {
	// GetActiveFilter returns the single active filter for a vendor.
	// Returns ErrFilterNotFound if the vendor has no active filter.
	GetActiveFilter(ctx context.Context, vendor string) (*domain.IngestionFilter, error)

	// ListActiveFilters returns all active filters, ordered by vendor.
	ListActiveFilters(ctx context.Context) ([]*domain.IngestionFilter, error)

	// TouchLastUsed stamps the filter's last_used column. A missing row is
	// treated as a no-op since the default filter is never persisted.
	TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error

	// WithTx returns a FilterStore bound to the given transaction.
	WithTx(tx *sql.Tx) FilterStore
}
