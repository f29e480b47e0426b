package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// FailedEmailStatus represents the retry state of an archived email.
type FailedEmailStatus string

// Possible failed email status values
const (
	FailedEmailStatusFailed         FailedEmailStatus = "failed"
	FailedEmailStatusRetryScheduled FailedEmailStatus = "retry_scheduled"
)

// DefaultFailedEmailMaxRetries is the retry budget for archived emails.
const DefaultFailedEmailMaxRetries = 3

// Common validation errors for FailedEmail
var (
	ErrEmptyFailedEmailID     = errors.New("failed email ID cannot be empty")
	ErrEmptyFailedEmailVendor = errors.New("failed email vendor cannot be empty")
	ErrRetriesExhausted       = errors.New("failed email retry budget exhausted")
)

// FailedEmail archives a message that raised a per-message processing error
// during ingestion, so the batch can continue and the message can be
// reprocessed later. The invariant RetryCount <= MaxRetries holds at all
// times; once the budget is exhausted no further NextRetryAt is scheduled.
type FailedEmail struct {
	ID           uuid.UUID         `json:"id"`
	Vendor       string            `json:"vendor"`
	MessageID    string            `json:"message_id,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	From         string            `json:"from,omitempty"`
	ReceivedDate time.Time         `json:"received_date"`
	ErrorMessage string            `json:"error_message"`
	ErrorStack   string            `json:"error_stack,omitempty"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	NextRetryAt  *time.Time        `json:"next_retry_at,omitempty"`
	Status       FailedEmailStatus `json:"status"`
	RawContent   []byte            `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewFailedEmail creates an archive row for a message that could not be
// processed. The raw message body is retained so a later retry can replay
// the full pipeline without refetching.
func NewFailedEmail(msg EmailMessage, processErr error, raw []byte) *FailedEmail {
	now := time.Now().UTC()
	received := msg.Date
	if received.IsZero() {
		received = now
	}
	return &FailedEmail{
		ID:           uuid.New(),
		Vendor:       msg.Vendor,
		MessageID:    msg.MessageID,
		Subject:      msg.Subject,
		From:         msg.From,
		ReceivedDate: received,
		ErrorMessage: processErr.Error(),
		RetryCount:   0,
		MaxRetries:   DefaultFailedEmailMaxRetries,
		Status:       FailedEmailStatusFailed,
		RawContent:   raw,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks if the FailedEmail has valid data.
func (f *FailedEmail) Validate() error {
	if f.ID == uuid.Nil {
		return ErrEmptyFailedEmailID
	}
	if f.Vendor == "" {
		return ErrEmptyFailedEmailVendor
	}
	if f.RetryCount > f.MaxRetries {
		return ErrRetriesExhausted
	}
	return nil
}

// CanRetry reports whether the archive row still has retry budget.
func (f *FailedEmail) CanRetry() bool {
	return f.RetryCount < f.MaxRetries
}

// ScheduleRetry consumes one retry and schedules the next attempt after the
// given delay. Returns ErrRetriesExhausted when the budget is spent, in which
// case the row stays in its current state with no NextRetryAt.
func (f *FailedEmail) ScheduleRetry(delay time.Duration) error {
	if !f.CanRetry() {
		return ErrRetriesExhausted
	}
	next := time.Now().UTC().Add(delay)
	f.RetryCount++
	f.NextRetryAt = &next
	f.Status = FailedEmailStatusRetryScheduled
	f.UpdatedAt = time.Now().UTC()
	return nil
}
