package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// PostgresHealthCheckStore implements the store.HealthCheckStore interface
// using a PostgreSQL database as the storage backend.
type PostgresHealthCheckStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresHealthCheckStore creates a new PostgreSQL implementation of the
// HealthCheckStore interface. If logger is nil, a default logger will be used.
func NewPostgresHealthCheckStore(db store.DBTX, logger *slog.Logger) *PostgresHealthCheckStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresHealthCheckStore{
		db:     db,
		logger: logger.With(slog.String("component", "health_check_store")),
	}
}

// Ensure PostgresHealthCheckStore implements store.HealthCheckStore interface
var _ store.HealthCheckStore = (*PostgresHealthCheckStore)(nil)

// Upsert implements store.HealthCheckStore.Upsert
// One row exists per subsystem key; the latest probe always wins.
func (s *PostgresHealthCheckStore) Upsert(ctx context.Context, hc *domain.HealthCheck) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	details, err := json.Marshal(hc.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal health check details: %w", err)
	}

	query := `
		INSERT INTO health_checks (id, status, response_time_ms, last_checked, message, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    response_time_ms = EXCLUDED.response_time_ms,
		    last_checked = EXCLUDED.last_checked,
		    message = EXCLUDED.message,
		    details = EXCLUDED.details
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		hc.ID,
		hc.Status,
		hc.ResponseTime.Milliseconds(),
		hc.LastChecked,
		hc.Message,
		details,
	)
	if err != nil {
		log.Error("failed to upsert health check",
			slog.String("error", err.Error()),
			slog.String("check", hc.ID))
		return MapError(err)
	}
	return nil
}

// Get implements store.HealthCheckStore.Get
// Returns store.ErrHealthCheckNotFound if no record exists for the key.
func (s *PostgresHealthCheckStore) Get(ctx context.Context, id string) (*domain.HealthCheck, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, status, response_time_ms, last_checked, message, details
		FROM health_checks
		WHERE id = $1
	`

	hc, err := scanHealthCheck(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrHealthCheckNotFound
		}
		log.Error("failed to get health check",
			slog.String("error", err.Error()),
			slog.String("check", id))
		return nil, MapError(err)
	}
	return hc, nil
}

// List implements store.HealthCheckStore.List
func (s *PostgresHealthCheckStore) List(ctx context.Context) ([]*domain.HealthCheck, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, status, response_time_ms, last_checked, message, details
		FROM health_checks
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to list health checks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var checks []*domain.HealthCheck
	for rows.Next() {
		hc, err := scanHealthCheck(rows)
		if err != nil {
			log.Error("failed to scan health check row", slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		checks = append(checks, hc)
	}
	if err := rows.Err(); err != nil {
		log.Error("error after scanning rows", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	if checks == nil {
		checks = []*domain.HealthCheck{}
	}
	return checks, nil
}

// WithTx implements store.HealthCheckStore.WithTx
// It returns a new HealthCheckStore instance using the provided transaction.
func (s *PostgresHealthCheckStore) WithTx(tx *sql.Tx) store.HealthCheckStore {
	return &PostgresHealthCheckStore{
		db:     tx,
		logger: s.logger,
	}
}

func scanHealthCheck(row rowScanner) (*domain.HealthCheck, error) {
	var hc domain.HealthCheck
	var status string
	var responseTimeMs int64
	var details []byte

	err := row.Scan(
		&hc.ID,
		&status,
		&responseTimeMs,
		&hc.LastChecked,
		&hc.Message,
		&details,
	)
	if err != nil {
		return nil, err
	}

	hc.Status = domain.HealthStatus(status)
	hc.ResponseTime = time.Duration(responseTimeMs) * time.Millisecond
	if len(details) > 0 {
		if err := json.Unmarshal(details, &hc.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal health check details: %w", err)
		}
	}
	return &hc, nil
}
