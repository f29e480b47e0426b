package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a durable job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job priorities. Lower values are claimed first.
const (
	JobPriorityHigh    = 0
	JobPriorityDefault = 10
	JobPriorityLow     = 20
)

// DefaultJobMaxAttempts is the execution budget before a job is failed
// terminally.
const DefaultJobMaxAttempts = 2

// Common validation errors for Job
var (
	ErrEmptyJobID       = errors.New("job ID cannot be empty")
	ErrEmptyJobTaskID   = errors.New("job task ID cannot be empty")
	ErrInvalidJobStatus = errors.New("invalid job status")
)

// Job is one durable unit of queued work. Attempts increments only on a
// failed execution; reaching MaxAttempts is terminal and never retried
// automatically. A terminal failed job can be reset manually via the
// queue's RetryJob operation.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	TaskID      string     `json:"task_id"`
	Payload     []byte     `json:"payload,omitempty"`
	Priority    int        `json:"priority"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	NextRunAt   time.Time  `json:"next_run_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJob creates a pending job due immediately.
// Returns an error if validation fails.
func NewJob(taskID string, payload []byte, priority int) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		TaskID:      taskID,
		Payload:     payload,
		Priority:    priority,
		Status:      JobStatusPending,
		Attempts:    0,
		MaxAttempts: DefaultJobMaxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}
	if j.TaskID == "" {
		return ErrEmptyJobTaskID
	}
	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}
	return nil
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
