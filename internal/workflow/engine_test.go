package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchdogai/report-engine/internal/domain"
)

// countingStep returns a StepFunc for the custom step type that counts its
// invocations and replays the given outcomes.
type countingStep struct {
	calls  atomic.Int32
	output map[string]any
	err    error
}

func (c *countingStep) handler() StepFunc {
	return StepFunc{
		StepType: domain.StepTypeCustom,
		Fn: func(_ context.Context, _ *domain.Workflow, _ domain.WorkflowStep) (map[string]any, error) {
			c.calls.Add(1)
			if c.err != nil {
				return nil, c.err
			}
			return c.output, nil
		},
	}
}

func customSteps(ids ...string) []domain.WorkflowStep {
	var steps []domain.WorkflowStep
	for _, id := range ids {
		steps = append(steps, domain.WorkflowStep{ID: id, Type: domain.StepTypeCustom})
	}
	return steps
}

func TestRunOnceAdvancesAndPauses(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{output: map[string]any{"file_paths": []string{"a.csv"}}}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	wf, err := engine.Create(context.Background(), nil, customSteps("first", "second"))
	require.NoError(t, err)

	got, err := engine.RunOnce(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusPaused, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, int32(1), step.calls.Load())

	// Step output lands under both the step ID and the last-result key.
	assert.Equal(t, step.output, got.Context["first"])
	assert.Equal(t, step.output, got.Context[domain.LastStepResultKey])

	stored, err := workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.False(t, stored.Locked, "progress write must clear the lock")
	assert.Nil(t, stored.LockedAt)
}

func TestRunOnceCompletesOnFinalStep(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{output: map[string]any{"done": true}}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	wf, err := engine.Create(context.Background(), nil, customSteps("only"))
	require.NoError(t, err)

	got, err := engine.RunOnce(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.True(t, got.IsTerminal())
}

func TestRunToCompletion(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{output: map[string]any{"ok": true}}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	wf, err := engine.Create(context.Background(), nil, customSteps("first", "second", "third"))
	require.NoError(t, err)

	got, err := engine.RunToCompletion(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.Equal(t, int32(3), step.calls.Load())
	for _, id := range []string{"first", "second", "third"} {
		assert.Contains(t, got.Context, id)
	}
}

func TestRunOnceRefusesHeldLock(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	wf, err := engine.Create(context.Background(), nil, customSteps("only"))
	require.NoError(t, err)

	// Another worker holds a live lock.
	acquired, err := workflows.AcquireLock(context.Background(), wf.ID, time.Now().UTC(), DefaultLockLease)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = engine.RunOnce(context.Background(), wf.ID)
	assert.ErrorIs(t, err, domain.ErrWorkflowLocked)
	assert.Zero(t, step.calls.Load())
}

func TestRunOnceReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{output: map[string]any{"ok": true}}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	wf, err := engine.Create(context.Background(), nil, customSteps("only"))
	require.NoError(t, err)

	// A crashed worker left a lock older than the lease.
	stale := time.Now().UTC().Add(-DefaultLockLease - time.Minute)
	workflows.mu.Lock()
	workflows.workflows[wf.ID].Locked = true
	workflows.workflows[wf.ID].LockedAt = &stale
	workflows.mu.Unlock()

	got, err := engine.RunOnce(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.Equal(t, int32(1), step.calls.Load())
}

func TestRunOnceTerminalWorkflowIsNoOp(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	wf, err := engine.Create(context.Background(), nil, customSteps("only"))
	require.NoError(t, err)

	workflows.mu.Lock()
	workflows.workflows[wf.ID].Status = domain.WorkflowStatusCompleted
	workflows.mu.Unlock()

	got, err := engine.RunOnce(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusCompleted, got.Status)
	assert.Zero(t, step.calls.Load())
}

func TestRunOnceFailsWithoutHandler(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())

	wf, err := engine.Create(context.Background(), nil, customSteps("only"))
	require.NoError(t, err)

	got, err := engine.RunOnce(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "no handler registered")

	stored, err := workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.False(t, stored.Locked)
}

func TestRunOnceExhaustsStepRetryBudget(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{err: errors.New("parser crashed")}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	// MaxRetries zero fails the workflow on the first step failure.
	wf, err := engine.Create(context.Background(), nil, customSteps("only"))
	require.NoError(t, err)

	got, err := engine.RunOnce(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, got.Status)
	assert.Equal(t, "parser crashed", got.LastError)
	assert.Equal(t, int32(1), step.calls.Load())
	assert.Zero(t, got.CurrentStep, "a failed step never advances the cursor")
}

func TestRunOnceTerminalStepErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	workflows := newMemWorkflowStore()
	engine := NewEngine(workflows, 0, testLogger())
	step := &countingStep{err: fmt.Errorf("ingest: %w", domain.ErrReportNotFound)}
	require.NoError(t, engine.RegisterHandler(step.handler()))

	steps := customSteps("only")
	steps[0].MaxRetries = 5
	wf, err := engine.Create(context.Background(), nil, steps)
	require.NoError(t, err)

	got, err := engine.RunOnce(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, got.Status)
	assert.Equal(t, int32(1), step.calls.Load(), "terminal errors must not burn the retry budget")
}

func TestRegisterHandlerRejectsDuplicateType(t *testing.T) {
	t.Parallel()

	engine := NewEngine(newMemWorkflowStore(), 0, testLogger())
	step := &countingStep{}
	require.NoError(t, engine.RegisterHandler(step.handler()))
	assert.Error(t, engine.RegisterHandler(step.handler()))
}

func TestStepBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, stepBackoff(2, 1))
	assert.Equal(t, 2*time.Second, stepBackoff(2, 2))
	assert.Equal(t, 4*time.Second, stepBackoff(2, 3))
	assert.Equal(t, time.Second, stepBackoff(0, 2), "factor below one never shrinks the delay")
}
