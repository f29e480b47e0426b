package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/watchdogai/report-engine/internal/domain"
)

// TaskWorkflowExecution is the job queue task ID for workflow runs.
const TaskWorkflowExecution = "workflow_execution"

// ExecutionPayload is the job payload for workflow execution jobs.
type ExecutionPayload struct {
	WorkflowID uuid.UUID `json:"workflow_id"`

	// RunToCompletion drives the workflow until terminal instead of
	// executing a single step.
	RunToCompletion bool `json:"run_to_completion,omitempty"`
}

// NewExecutionPayload marshals a workflow execution payload.
func NewExecutionPayload(workflowID uuid.UUID, runToCompletion bool) ([]byte, error) {
	return json.Marshal(ExecutionPayload{
		WorkflowID:      workflowID,
		RunToCompletion: runToCompletion,
	})
}

// JobHandler adapts the workflow engine to the job queue. A run that finds
// the workflow locked returns the lock error so the queue retries the job
// later instead of losing the trigger.
type JobHandler struct {
	engine *Engine
}

// NewJobHandler creates the queue handler for workflow execution jobs.
func NewJobHandler(engine *Engine) *JobHandler {
	return &JobHandler{engine: engine}
}

// TaskID implements task.Handler.
func (h *JobHandler) TaskID() string { return TaskWorkflowExecution }

// Handle implements task.Handler.
func (h *JobHandler) Handle(ctx context.Context, job *domain.Job) error {
	var payload ExecutionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: malformed workflow execution payload: %v", domain.ErrValidation, err)
	}
	if payload.WorkflowID == uuid.Nil {
		return fmt.Errorf("%w: workflow execution payload missing workflow_id", domain.ErrValidation)
	}

	var wf *domain.Workflow
	var err error
	if payload.RunToCompletion {
		wf, err = h.engine.RunToCompletion(ctx, payload.WorkflowID)
	} else {
		wf, err = h.engine.RunOnce(ctx, payload.WorkflowID)
	}
	if err != nil {
		return err
	}

	if wf.Status == domain.WorkflowStatusFailed {
		return fmt.Errorf("workflow %s failed: %s", wf.ID, wf.LastError)
	}
	return nil
}
