package store

import (
	"context"
	"database/sql"

	"github.com/watchdogai/report-engine/internal/domain"
)

// EmailLogStore defines the interface for processed-email logging. It is
// also the durable cross-run dedup source for the ingestion engine.
type EmailLogStore interface {
	// Create records a successfully processed message.
	Create(ctx context.Context, el *domain.EmailLog) error

	// ExistsByMessageID reports whether a message has already been
	// processed for the vendor in any prior run.
	ExistsByMessageID(ctx context.Context, vendor, messageID string) (bool, error)

	// WithTx returns an EmailLogStore bound to the given transaction.
	WithTx(tx *sql.Tx) EmailLogStore
}
