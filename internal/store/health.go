package store

import (
	"context"
	"database/sql"

	"github.com/watchdogai/report-engine/internal/domain"
)

// HealthCheckStore defines the interface for health record persistence.
// One row exists per monitored subsystem, upserted after every probe or
// ingestion attempt.
type HealthCheckStore interface {
	// Upsert inserts or replaces the record for the subsystem key.
	Upsert(ctx context.Context, hc *domain.HealthCheck) error

	// Get retrieves the latest record for a subsystem key.
	// Returns ErrHealthCheckNotFound if no record exists.
	Get(ctx context.Context, id string) (*domain.HealthCheck, error)

	// List returns the latest record for every monitored subsystem.
	List(ctx context.Context) ([]*domain.HealthCheck, error)

	// WithTx returns a HealthCheckStore bound to the given transaction.
	WithTx(tx *sql.Tx) HealthCheckStore
}
