package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// DefaultLockLease is how long a held workflow lock is honored before
// another worker may reclaim it as stale.
const DefaultLockLease = 10 * time.Minute

// stepRetryBaseDelay is the unit delay between step-local retries, scaled
// by the step's backoff factor.
const stepRetryBaseDelay = time.Second

// Engine executes workflows one step at a time. Each RunOnce call claims
// the workflow's persisted lock, executes exactly one step (with its own
// step-local retry budget), persists the outcome atomically, and releases
// the lock. A workflow in a terminal state is never touched again.
type Engine struct {
	workflows store.WorkflowStore
	handlers  map[domain.StepType]StepHandler
	lease     time.Duration
	logger    *slog.Logger
}

// NewEngine creates a workflow Engine. lease <= 0 selects DefaultLockLease.
// If logger is nil, a default logger will be used.
func NewEngine(workflows store.WorkflowStore, lease time.Duration, logger *slog.Logger) *Engine {
	if lease <= 0 {
		lease = DefaultLockLease
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		workflows: workflows,
		handlers:  make(map[domain.StepType]StepHandler),
		lease:     lease,
		logger:    logger.With(slog.String("component", "workflow_engine")),
	}
}

// RegisterHandler adds a step handler. Registering a duplicate step type is
// an error.
func (e *Engine) RegisterHandler(h StepHandler) error {
	if _, exists := e.handlers[h.Type()]; exists {
		return fmt.Errorf("handler already registered for step type %q", h.Type())
	}
	e.handlers[h.Type()] = h
	return nil
}

// Create validates and persists a new workflow built from the given steps.
func (e *Engine) Create(ctx context.Context, userID *uuid.UUID, steps []domain.WorkflowStep) (*domain.Workflow, error) {
	wf, err := domain.NewWorkflow(userID, steps)
	if err != nil {
		return nil, err
	}
	if err := e.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// RunOnce executes the workflow's current step. A terminal workflow is a
// no-op. Returns domain.ErrWorkflowLocked when another worker holds a live
// lock; the caller should simply try again later.
func (e *Engine) RunOnce(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(slog.String("workflow_id", id.String()))
	ctx = logger.WithLogger(ctx, log)

	wf, err := e.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.IsTerminal() {
		log.Debug("workflow is terminal, nothing to run", slog.String("status", string(wf.Status)))
		return wf, nil
	}

	acquired, err := e.workflows.AcquireLock(ctx, id, time.Now().UTC(), e.lease)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire workflow lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: workflow %s", domain.ErrWorkflowLocked, id)
	}

	// The lock must never outlive this call. SaveProgress clears it as
	// part of the atomic progress write; the deferred release covers every
	// earlier exit.
	saved := false
	defer func() {
		if !saved {
			if relErr := e.workflows.ReleaseLock(ctx, id); relErr != nil {
				log.Error("failed to release workflow lock", slog.String("error", relErr.Error()))
			}
		}
	}()

	// Re-read under the lock so we execute against current state.
	wf, err = e.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.IsTerminal() {
		return wf, nil
	}

	e.executeCurrentStep(ctx, wf)

	wf.Locked = false
	wf.LockedAt = nil
	wf.UpdatedAt = time.Now().UTC()
	if err := e.workflows.SaveProgress(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow progress: %w", err)
	}
	saved = true
	return wf, nil
}

// RunToCompletion drives the workflow step by step until it reaches a
// terminal state. A lock held elsewhere stops the loop without error
// consequences beyond returning the lock signal.
func (e *Engine) RunToCompletion(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wf, err := e.RunOnce(ctx, id)
		if err != nil {
			return nil, err
		}
		if wf.IsTerminal() {
			return wf, nil
		}
	}
}

// executeCurrentStep runs the current step with its step-local retry
// budget, then mutates the workflow to its next state: advanced and paused,
// completed, or failed. The caller persists the result.
func (e *Engine) executeCurrentStep(ctx context.Context, wf *domain.Workflow) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	step := &wf.Steps[wf.CurrentStep]
	log = log.With(
		slog.String("step_id", step.ID),
		slog.String("step_type", string(step.Type)),
		slog.Int("current_step", wf.CurrentStep))

	wf.Status = domain.WorkflowStatusRunning

	handler, ok := e.handlers[step.Type]
	if !ok {
		wf.Status = domain.WorkflowStatusFailed
		wf.LastError = fmt.Sprintf("no handler registered for step type %q", step.Type)
		log.Error("workflow failed", slog.String("error", wf.LastError))
		return
	}

	var (
		output  map[string]any
		stepErr error
	)
	for {
		output, stepErr = handler.Run(ctx, wf, *step)
		if stepErr == nil {
			break
		}

		step.Retries++
		if step.Retries > step.MaxRetries || domain.IsTerminal(stepErr) || errors.Is(stepErr, context.Canceled) {
			wf.Status = domain.WorkflowStatusFailed
			wf.LastError = stepErr.Error()
			log.Error("workflow step exhausted retries, workflow failed",
				slog.Int("retries", step.Retries),
				slog.String("error", stepErr.Error()))
			return
		}

		delay := stepBackoff(step.BackoffFactor, step.Retries)
		log.Warn("workflow step failed, retrying",
			slog.Int("retries", step.Retries),
			slog.Duration("delay", delay),
			slog.String("error", stepErr.Error()))

		select {
		case <-ctx.Done():
			wf.Status = domain.WorkflowStatusFailed
			wf.LastError = ctx.Err().Error()
			return
		case <-time.After(delay):
		}
	}

	// Merge the step output under both the step's ID and the well-known
	// last-result key, so later steps can address either.
	if wf.Context == nil {
		wf.Context = map[string]any{}
	}
	if output != nil {
		wf.Context[step.ID] = output
		wf.Context[domain.LastStepResultKey] = output
	}

	step.Retries = 0
	wf.LastError = ""
	wf.CurrentStep++
	if wf.CurrentStep >= len(wf.Steps) {
		wf.Status = domain.WorkflowStatusCompleted
		log.Info("workflow completed", slog.Int("steps", len(wf.Steps)))
	} else {
		wf.Status = domain.WorkflowStatusPaused
		log.Info("workflow step completed, paused before next step",
			slog.Int("next_step", wf.CurrentStep))
	}
}

// stepBackoff returns the delay before the given step-local retry:
// base * factor^(retries-1). A factor below 1 is treated as 1.
func stepBackoff(factor float64, retries int) time.Duration {
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(stepRetryBaseDelay) * math.Pow(factor, float64(retries-1)))
}
