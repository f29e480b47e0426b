package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus represents the state of a cron schedule.
type ScheduleStatus string

// Possible schedule status values. A failed schedule requires a manual
// retry action to reactivate.
const (
	ScheduleStatusActive ScheduleStatus = "active"
	ScheduleStatusPaused ScheduleStatus = "paused"
	ScheduleStatusFailed ScheduleStatus = "failed"
)

// Common validation errors for Schedule
var (
	ErrEmptyScheduleID       = errors.New("schedule ID cannot be empty")
	ErrEmptyScheduleIntent   = errors.New("schedule intent cannot be empty")
	ErrEmptyCronExpr         = errors.New("schedule cron expression cannot be empty")
	ErrInvalidScheduleStatus = errors.New("invalid schedule status")
)

// Schedule is a cron-driven trigger for workflow runs. Invariant: an active
// schedule always has a computable future NextRunAt. WorkflowID binds the
// schedule to a persistent workflow instance; when nil, each trigger creates
// a fresh workflow from the schedule's intent and platform.
type Schedule struct {
	ID         uuid.UUID      `json:"id"`
	WorkflowID *uuid.UUID     `json:"workflow_id,omitempty"`
	Intent     string         `json:"intent"`
	Platform   string         `json:"platform"`
	CronExpr   string         `json:"cron_expr"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	Status     ScheduleStatus `json:"status"`
	RetryCount int            `json:"retry_count"`
	Enabled    bool           `json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewSchedule creates an active, enabled schedule for the given intent.
// NextRunAt must be computed from the cron expression by the scheduler
// before the row is persisted.
func NewSchedule(intent, platform, cronExpr string) (*Schedule, error) {
	now := time.Now().UTC()
	s := &Schedule{
		ID:        uuid.New(),
		Intent:    intent,
		Platform:  platform,
		CronExpr:  cronExpr,
		Status:    ScheduleStatusActive,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks if the Schedule has valid data.
func (s *Schedule) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptyScheduleID
	}
	if s.Intent == "" {
		return ErrEmptyScheduleIntent
	}
	if s.CronExpr == "" {
		return ErrEmptyCronExpr
	}
	if !isValidScheduleStatus(s.Status) {
		return ErrInvalidScheduleStatus
	}
	return nil
}

// IsDue reports whether the schedule should fire at the given instant.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.Status == ScheduleStatusActive &&
		s.NextRunAt != nil && !s.NextRunAt.After(now)
}

func isValidScheduleStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusActive, ScheduleStatusPaused, ScheduleStatusFailed:
		return true
	default:
		return false
	}
}
