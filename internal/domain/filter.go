package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Defaults applied when a vendor has no configured filter.
const (
	DefaultDaysBack    = 7
	DefaultFilePattern = `\.csv$`
)

// Common validation errors for IngestionFilter
var (
	ErrEmptyFilterVendor  = errors.New("filter vendor cannot be empty")
	ErrInvalidDaysBack    = errors.New("filter days back must be positive")
	ErrEmptyFilePattern   = errors.New("filter file pattern cannot be empty")
	ErrEmptyFilterID      = errors.New("filter ID cannot be empty")
)

// IngestionFilter holds the per-vendor IMAP search criteria used to locate
// report emails. At most one filter per vendor is active; vendors without a
// configured row fall back to DefaultFilter. Filters are mutated by an
// administrative collaborator; the ingestion engine only reads them and
// stamps LastUsed.
type IngestionFilter struct {
	ID           uuid.UUID  `json:"id"`
	Vendor       string     `json:"vendor"`
	FromAddress  string     `json:"from_address"`
	SubjectRegex string     `json:"subject_regex"`
	DaysBack     int        `json:"days_back"`
	FilePattern  string     `json:"file_pattern"`
	Active       bool       `json:"active"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DefaultFilter returns the permissive fallback filter for a vendor:
// match all senders and subjects, look 7 days back, accept CSV attachments.
func DefaultFilter(vendor string) *IngestionFilter {
	now := time.Now().UTC()
	return &IngestionFilter{
		ID:          uuid.New(),
		Vendor:      vendor,
		DaysBack:    DefaultDaysBack,
		FilePattern: DefaultFilePattern,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks if the IngestionFilter has valid data.
// Returns an error if any field fails validation.
func (f *IngestionFilter) Validate() error {
	if f.ID == uuid.Nil {
		return ErrEmptyFilterID
	}
	if f.Vendor == "" {
		return ErrEmptyFilterVendor
	}
	if f.DaysBack <= 0 {
		return ErrInvalidDaysBack
	}
	if f.FilePattern == "" {
		return ErrEmptyFilePattern
	}
	return nil
}

// EmailMessage is the transient header metadata extracted from a fetched
// message. MessageID is the deduplication key; it is never persisted except
// as part of FailedEmail or EmailLog rows.
type EmailMessage struct {
	SeqNum    uint32    `json:"seq_num"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	MessageID string    `json:"message_id"`
	Vendor    string    `json:"vendor"`
}

// Attachment is a transient decoded MIME attachment.
type Attachment struct {
	Filename string
	Content  []byte
}
