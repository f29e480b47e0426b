package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/postgres"
	"github.com/watchdogai/report-engine/internal/store"
	"github.com/watchdogai/report-engine/internal/testdb"
	"github.com/google/uuid"
)

func createWorkflow(t *testing.T, workflows store.WorkflowStore) *domain.Workflow {
	t.Helper()
	wf, err := domain.NewWorkflow(nil, []domain.WorkflowStep{
		{ID: "ingest", Type: domain.StepTypeEmailIngestion, Name: "Fetch reports",
			Config: map[string]any{"vendor": "vinsolutions"}, MaxRetries: 2, BackoffFactor: 2.0},
		{ID: "process", Type: domain.StepTypeDataProcessing, Name: "Parse reports",
			MaxRetries: 2, BackoffFactor: 2.0},
	})
	require.NoError(t, err)
	require.NoError(t, workflows.Create(context.Background(), wf))
	return wf
}

func TestPostgresWorkflowStoreRoundTrip(t *testing.T) {
	t.Parallel()
	db := testdb.MustGetTestDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		workflows := postgres.NewPostgresWorkflowStore(tx, nil)
		wf := createWorkflow(t, workflows)

		got, err := workflows.GetByID(context.Background(), wf.ID)
		require.NoError(t, err)

		assert.Equal(t, domain.WorkflowStatusPending, got.Status)
		assert.Zero(t, got.CurrentStep)
		assert.False(t, got.Locked)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "ingest", got.Steps[0].ID)
		assert.Equal(t, domain.StepTypeEmailIngestion, got.Steps[0].Type)
		assert.Equal(t, "vinsolutions", got.Steps[0].Config["vendor"])
		assert.Equal(t, 2.0, got.Steps[0].BackoffFactor)
		assert.NotNil(t, got.Context)
	})
}

func TestPostgresWorkflowStoreGetByIDNotFound(t *testing.T) {
	t.Parallel()
	db := testdb.MustGetTestDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		workflows := postgres.NewPostgresWorkflowStore(tx, nil)

		_, err := workflows.GetByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
	})
}

func TestPostgresWorkflowStoreAcquireLock(t *testing.T) {
	t.Parallel()
	db := testdb.MustGetTestDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		workflows := postgres.NewPostgresWorkflowStore(tx, nil)
		ctx := context.Background()
		wf := createWorkflow(t, workflows)
		lease := 10 * time.Minute

		acquired, err := workflows.AcquireLock(ctx, wf.ID, time.Now().UTC(), lease)
		require.NoError(t, err)
		assert.True(t, acquired)

		// A live lock is not granted twice.
		acquired, err = workflows.AcquireLock(ctx, wf.ID, time.Now().UTC(), lease)
		require.NoError(t, err)
		assert.False(t, acquired)

		// After release the lock is available again.
		require.NoError(t, workflows.ReleaseLock(ctx, wf.ID))
		acquired, err = workflows.AcquireLock(ctx, wf.ID, time.Now().UTC(), lease)
		require.NoError(t, err)
		assert.True(t, acquired)
	})
}

func TestPostgresWorkflowStoreAcquireLockReclaimsStaleLease(t *testing.T) {
	t.Parallel()
	db := testdb.MustGetTestDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		workflows := postgres.NewPostgresWorkflowStore(tx, nil)
		ctx := context.Background()
		wf := createWorkflow(t, workflows)
		lease := 10 * time.Minute

		// Simulate a crashed worker: the lock was taken longer ago than the lease.
		stale := time.Now().UTC().Add(-lease - time.Minute)
		acquired, err := workflows.AcquireLock(ctx, wf.ID, stale, lease)
		require.NoError(t, err)
		require.True(t, acquired)

		acquired, err = workflows.AcquireLock(ctx, wf.ID, time.Now().UTC(), lease)
		require.NoError(t, err)
		assert.True(t, acquired, "an expired lease is reclaimable")
	})
}

func TestPostgresWorkflowStoreSaveProgress(t *testing.T) {
	t.Parallel()
	db := testdb.MustGetTestDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		workflows := postgres.NewPostgresWorkflowStore(tx, nil)
		ctx := context.Background()
		wf := createWorkflow(t, workflows)

		wf.CurrentStep = 1
		wf.Status = domain.WorkflowStatusPaused
		wf.Steps[0].Retries = 1
		wf.Context = map[string]any{
			"ingest": map[string]any{"file_paths": []any{"downloads/a.csv"}},
			domain.LastStepResultKey: map[string]any{"file_paths": []any{"downloads/a.csv"}},
		}
		wf.Locked = false
		wf.LockedAt = nil
		wf.UpdatedAt = time.Now().UTC()
		require.NoError(t, workflows.SaveProgress(ctx, wf))

		got, err := workflows.GetByID(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CurrentStep)
		assert.Equal(t, domain.WorkflowStatusPaused, got.Status)
		assert.Equal(t, 1, got.Steps[0].Retries)
		assert.False(t, got.Locked)

		// JSONB round-trips the context, with []any for arrays.
		stepResult, ok := got.Context["ingest"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []any{"downloads/a.csv"}, stepResult["file_paths"])
		assert.Contains(t, got.Context, domain.LastStepResultKey)
	})
}

func TestPostgresWorkflowStoreSaveProgressNotFound(t *testing.T) {
	t.Parallel()
	db := testdb.MustGetTestDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		workflows := postgres.NewPostgresWorkflowStore(tx, nil)

		wf, err := domain.NewWorkflow(nil, []domain.WorkflowStep{
			{ID: "ingest", Type: domain.StepTypeEmailIngestion},
		})
		require.NoError(t, err)

		err = workflows.SaveProgress(context.Background(), wf)
		assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
	})
}
