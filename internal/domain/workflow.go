package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the execution state of a workflow.
type WorkflowStatus string

// Possible workflow status values. A workflow alternates between running
// and paused as individual steps complete, and terminates in completed or
// failed. Terminal states are never left automatically.
const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCompleted WorkflowStatus = "completed"
)

// StepType identifies the handler for a workflow step. The set is closed:
// dispatch is a switch over these values, each with its own config shape.
type StepType string

// The fixed step type vocabulary.
const (
	StepTypeEmailIngestion    StepType = "emailIngestion"
	StepTypeBrowserAction     StepType = "browserAction"
	StepTypeInsightGeneration StepType = "insightGeneration"
	StepTypeCRM               StepType = "crm"
	StepTypeDataProcessing    StepType = "dataProcessing"
	StepTypeAPI               StepType = "api"
	StepTypeCustom            StepType = "custom"
)

// LastStepResultKey is the well-known context key holding the output of the
// most recently completed step, alongside the per-step-ID entry.
const LastStepResultKey = "__lastStepResult"

// Common validation errors for Workflow
var (
	ErrEmptyWorkflowID       = errors.New("workflow ID cannot be empty")
	ErrEmptyWorkflowSteps    = errors.New("workflow must have at least one step")
	ErrInvalidWorkflowStatus = errors.New("invalid workflow status")
	ErrInvalidStepType       = errors.New("invalid workflow step type")
	ErrEmptyStepID           = errors.New("workflow step ID cannot be empty")
)

// WorkflowStep is one unit of a workflow pipeline. Retries is the number of
// attempts already consumed for the current step execution; MaxRetries is
// the step-local budget. BackoffFactor scales the delay between step-local
// retries.
type WorkflowStep struct {
	ID            string         `json:"id"`
	Type          StepType       `json:"type"`
	Name          string         `json:"name"`
	Config        map[string]any `json:"config,omitempty"`
	Retries       int            `json:"retries"`
	MaxRetries    int            `json:"max_retries"`
	BackoffFactor float64        `json:"backoff_factor"`
}

// Validate checks if the WorkflowStep has valid data.
func (s *WorkflowStep) Validate() error {
	if s.ID == "" {
		return ErrEmptyStepID
	}
	if !isValidStepType(s.Type) {
		return ErrInvalidStepType
	}
	return nil
}

// Workflow is a durable, resumable multi-step pipeline. CurrentStep only
// advances on a successful step. Locked is a persisted advisory lock held
// for the duration of a single step execution; LockedAt supports lease
// expiry so a crashed worker cannot strand the workflow forever.
type Workflow struct {
	ID          uuid.UUID      `json:"id"`
	UserID      *uuid.UUID     `json:"user_id,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	CurrentStep int            `json:"current_step"`
	Context     map[string]any `json:"context"`
	Status      WorkflowStatus `json:"status"`
	LastError   string         `json:"last_error,omitempty"`
	Locked      bool           `json:"locked"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewWorkflow creates a pending workflow with the given steps.
// Returns an error if validation fails.
func NewWorkflow(userID *uuid.UUID, steps []WorkflowStep) (*Workflow, error) {
	now := time.Now().UTC()
	wf := &Workflow{
		ID:        uuid.New(),
		UserID:    userID,
		Steps:     steps,
		Context:   map[string]any{},
		Status:    WorkflowStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// Validate checks if the Workflow has valid data.
func (w *Workflow) Validate() error {
	if w.ID == uuid.Nil {
		return ErrEmptyWorkflowID
	}
	if len(w.Steps) == 0 {
		return ErrEmptyWorkflowSteps
	}
	if !isValidWorkflowStatus(w.Status) {
		return ErrInvalidWorkflowStatus
	}
	for i := range w.Steps {
		if err := w.Steps[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsTerminal reports whether the workflow has reached a final state.
func (w *Workflow) IsTerminal() bool {
	return w.Status == WorkflowStatusCompleted || w.Status == WorkflowStatusFailed
}

// LockExpired reports whether a held lock is older than the given lease and
// may be reclaimed by another worker.
func (w *Workflow) LockExpired(lease time.Duration) bool {
	if !w.Locked || w.LockedAt == nil {
		return false
	}
	return time.Since(*w.LockedAt) > lease
}

func isValidWorkflowStatus(status WorkflowStatus) bool {
	switch status {
	case WorkflowStatusPending, WorkflowStatusRunning, WorkflowStatusPaused,
		WorkflowStatusFailed, WorkflowStatusCompleted:
		return true
	default:
		return false
	}
}

func isValidStepType(t StepType) bool {
	switch t {
	case StepTypeEmailIngestion, StepTypeBrowserAction, StepTypeInsightGeneration,
		StepTypeCRM, StepTypeDataProcessing, StepTypeAPI, StepTypeCustom:
		return true
	default:
		return false
	}
}
