package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/watchdogai/report-engine/internal/domain"
)

// WorkflowStore defines the interface for workflow persistence.
type WorkflowStore interface {
	// Create inserts a new workflow with its steps and empty context.
	// Returns validation errors if the entity is invalid.
	Create(ctx context.Context, wf *domain.Workflow) error

	// GetByID retrieves a workflow by ID.
	// Returns ErrWorkflowNotFound if the workflow does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)

	// AcquireLock attempts to take the workflow's persisted advisory lock
	// with a single conditional update. The lock is granted when the
	// workflow is unlocked, or when the existing lock is older than lease
	// (a stale lock left by a crashed worker is reclaimable).
	// Returns true when the lock was acquired.
	AcquireLock(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error)

	// ReleaseLock clears the lock unconditionally. Called on every exit
	// path of a step execution.
	ReleaseLock(ctx context.Context, id uuid.UUID) error

	// SaveProgress persists current_step, context, status, last_error,
	// locked and updated_at as one atomic update.
	// Returns ErrWorkflowNotFound if the workflow does not exist.
	SaveProgress(ctx context.Context, wf *domain.Workflow) error

	// WithTx returns a WorkflowStore bound to the given transaction.
	WithTx(tx *sql.Tx) WorkflowStore
}
