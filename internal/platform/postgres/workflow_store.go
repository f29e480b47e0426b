package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// PostgresWorkflowStore implements the store.WorkflowStore interface
// using a PostgreSQL database as the storage backend. Steps and context are
// stored as JSONB documents.
type PostgresWorkflowStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWorkflowStore creates a new PostgreSQL implementation of the
// WorkflowStore interface. If logger is nil, a default logger will be used.
func NewPostgresWorkflowStore(db store.DBTX, logger *slog.Logger) *PostgresWorkflowStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresWorkflowStore{
		db:     db,
		logger: logger.With(slog.String("component", "workflow_store")),
	}
}

// Ensure PostgresWorkflowStore implements store.WorkflowStore interface
var _ store.WorkflowStore = (*PostgresWorkflowStore)(nil)

// Create implements store.WorkflowStore.Create
// Returns validation errors from the domain Workflow if data is invalid.
func (s *PostgresWorkflowStore) Create(ctx context.Context, wf *domain.Workflow) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := wf.Validate(); err != nil {
		log.Warn("workflow validation failed during create",
			slog.String("error", err.Error()),
			slog.String("workflow_id", wf.ID.String()))
		return err
	}

	steps, wfContext, err := marshalWorkflowDocs(wf)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (id, user_id, steps, current_step, context, status,
			last_error, locked, locked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		wf.ID,
		wf.UserID,
		steps,
		wf.CurrentStep,
		wfContext,
		wf.Status,
		wf.LastError,
		wf.Locked,
		wf.LockedAt,
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create workflow",
			slog.String("error", err.Error()),
			slog.String("workflow_id", wf.ID.String()))
		return MapError(err)
	}

	log.Info("workflow created",
		slog.String("workflow_id", wf.ID.String()),
		slog.Int("steps", len(wf.Steps)))
	return nil
}

// GetByID implements store.WorkflowStore.GetByID
// Returns store.ErrWorkflowNotFound if the workflow does not exist.
func (s *PostgresWorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, steps, current_step, context, status,
		       last_error, locked, locked_at, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	var wf domain.Workflow
	var status string
	var steps, wfContext []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&wf.ID,
		&wf.UserID,
		&steps,
		&wf.CurrentStep,
		&wfContext,
		&status,
		&wf.LastError,
		&wf.Locked,
		&wf.LockedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrWorkflowNotFound
		}
		log.Error("failed to get workflow by ID",
			slog.String("error", err.Error()),
			slog.String("workflow_id", id.String()))
		return nil, MapError(err)
	}

	wf.Status = domain.WorkflowStatus(status)
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow steps: %w", err)
	}
	if err := json.Unmarshal(wfContext, &wf.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow context: %w", err)
	}
	return &wf, nil
}

// AcquireLock implements store.WorkflowStore.AcquireLock
// The conditional update grants the lock when the workflow is unlocked or
// when the held lock is older than the lease, so a crashed worker cannot
// strand a workflow. Returns true when this caller now holds the lock.
func (s *PostgresWorkflowStore) AcquireLock(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	staleBefore := now.Add(-lease)
	query := `
		UPDATE workflows
		SET locked = TRUE, locked_at = $1, updated_at = $1
		WHERE id = $2
		  AND (locked = FALSE OR locked_at IS NULL OR locked_at < $3)
	`
	result, err := s.db.ExecContext(ctx, query, now, id, staleBefore)
	if err != nil {
		log.Error("failed to acquire workflow lock",
			slog.String("error", err.Error()),
			slog.String("workflow_id", id.String()))
		return false, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		log.Debug("workflow lock held elsewhere", slog.String("workflow_id", id.String()))
		return false, nil
	}
	return true, nil
}

// ReleaseLock implements store.WorkflowStore.ReleaseLock
// Unconditional; safe to call on every exit path.
func (s *PostgresWorkflowStore) ReleaseLock(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE workflows
		SET locked = FALSE, locked_at = NULL, updated_at = $1
		WHERE id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		log.Error("failed to release workflow lock",
			slog.String("error", err.Error()),
			slog.String("workflow_id", id.String()))
		return MapError(err)
	}
	return nil
}

// SaveProgress implements store.WorkflowStore.SaveProgress
// Persists step pointer, context, status, last_error and lock state in one
// atomic update. Returns store.ErrWorkflowNotFound if the row is missing.
func (s *PostgresWorkflowStore) SaveProgress(ctx context.Context, wf *domain.Workflow) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	steps, wfContext, err := marshalWorkflowDocs(wf)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows
		SET steps = $1, current_step = $2, context = $3, status = $4,
		    last_error = $5, locked = $6, locked_at = $7, updated_at = $8
		WHERE id = $9
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		steps,
		wf.CurrentStep,
		wfContext,
		wf.Status,
		wf.LastError,
		wf.Locked,
		wf.LockedAt,
		wf.UpdatedAt,
		wf.ID,
	)
	if err != nil {
		log.Error("failed to save workflow progress",
			slog.String("error", err.Error()),
			slog.String("workflow_id", wf.ID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrWorkflowNotFound
	}

	log.Debug("workflow progress saved",
		slog.String("workflow_id", wf.ID.String()),
		slog.Int("current_step", wf.CurrentStep),
		slog.String("status", string(wf.Status)))
	return nil
}

// WithTx implements store.WorkflowStore.WithTx
// It returns a new WorkflowStore instance using the provided transaction.
func (s *PostgresWorkflowStore) WithTx(tx *sql.Tx) store.WorkflowStore {
	return &PostgresWorkflowStore{
		db:     tx,
		logger: s.logger,
	}
}

func marshalWorkflowDocs(wf *domain.Workflow) (steps, wfContext []byte, err error) {
	steps, err = json.Marshal(wf.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal workflow steps: %w", err)
	}
	if wf.Context == nil {
		wfContext = []byte("{}")
	} else {
		wfContext, err = json.Marshal(wf.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal workflow context: %w", err)
		}
	}
	return steps, wfContext, nil
}
