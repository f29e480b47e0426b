package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmailLog records one successfully processed report email. It doubles as
// the durable cross-run deduplication source: the ingestion engine consults
// it by message ID before writing attachments again.
type EmailLog struct {
	ID              uuid.UUID `json:"id"`
	Vendor          string    `json:"vendor"`
	MessageID       string    `json:"message_id"`
	Subject         string    `json:"subject,omitempty"`
	FromAddress     string    `json:"from_address,omitempty"`
	AttachmentCount int       `json:"attachment_count"`
	FilePaths       []string  `json:"file_paths"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// NewEmailLog creates a log row for a processed message.
func NewEmailLog(msg EmailMessage, filePaths []string) *EmailLog {
	return &EmailLog{
		ID:              uuid.New(),
		Vendor:          msg.Vendor,
		MessageID:       msg.MessageID,
		Subject:         msg.Subject,
		FromAddress:     msg.From,
		AttachmentCount: len(filePaths),
		FilePaths:       filePaths,
		ProcessedAt:     time.Now().UTC(),
	}
}
