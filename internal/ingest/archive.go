package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// retryBaseDelay is the delay before the first reprocessing attempt of an
// archived email; each subsequent attempt doubles it.
const retryBaseDelay = time.Hour

// FailureArchive persists emails that raised per-message processing errors
// so a single poison message never aborts a batch, and schedules their
// reprocessing within the retry budget.
type FailureArchive struct {
	failedEmails store.FailedEmailStore
	logger       *slog.Logger
}

// NewFailureArchive creates a FailureArchive. If logger is nil, a default
// logger will be used.
func NewFailureArchive(failedEmails store.FailedEmailStore, logger *slog.Logger) *FailureArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureArchive{
		failedEmails: failedEmails,
		logger:       logger.With(slog.String("component", "failure_archive")),
	}
}

// Archive stores the failed message with its raw content and, while retry
// budget remains, schedules the first reprocessing attempt. Archiving is
// best effort: a store failure is logged and returned, but callers are
// expected to continue their batch regardless.
func (a *FailureArchive) Archive(ctx context.Context, msg domain.EmailMessage, processErr error, raw []byte) (*domain.FailedEmail, error) {
	log := logger.FromContextOrDefault(ctx, a.logger)

	fe := domain.NewFailedEmail(msg, processErr, raw)
	if err := fe.ScheduleRetry(a.retryDelay(fe.RetryCount)); err != nil {
		// Zero budget configured; keep the row in failed status.
		log.Debug("archived email has no retry budget",
			slog.String("vendor", fe.Vendor),
			slog.String("message_id", fe.MessageID))
	}

	if err := a.failedEmails.Create(ctx, fe); err != nil {
		log.Error("failed to archive unprocessable email",
			slog.String("vendor", fe.Vendor),
			slog.String("message_id", fe.MessageID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to archive email: %w", err)
	}

	log.Warn("archived unprocessable email",
		slog.String("vendor", fe.Vendor),
		slog.String("message_id", fe.MessageID),
		slog.String("subject", fe.Subject),
		slog.String("error", fe.ErrorMessage),
		slog.Int("retry_count", fe.RetryCount))
	return fe, nil
}

// DueForRetry returns archived emails whose scheduled retry time has
// arrived, oldest first.
func (a *FailureArchive) DueForRetry(ctx context.Context, limit int) ([]*domain.FailedEmail, error) {
	return a.failedEmails.ListDueForRetry(ctx, time.Now().UTC(), limit)
}

// RecordRetryFailure consumes one more unit of the retry budget after a
// failed reprocessing attempt. When the budget is exhausted the row stays
// archived with no next attempt and domain.ErrRetriesExhausted is returned.
func (a *FailureArchive) RecordRetryFailure(ctx context.Context, fe *domain.FailedEmail, retryErr error) error {
	fe.ErrorMessage = retryErr.Error()
	if err := fe.ScheduleRetry(a.retryDelay(fe.RetryCount)); err != nil {
		fe.Status = domain.FailedEmailStatusFailed
		fe.NextRetryAt = nil
		fe.UpdatedAt = time.Now().UTC()
		if updateErr := a.failedEmails.Update(ctx, fe); updateErr != nil {
			return fmt.Errorf("failed to update exhausted archive row: %w", updateErr)
		}
		return err
	}
	return a.failedEmails.Update(ctx, fe)
}

// Resolve removes an archive row after its message was reprocessed
// successfully.
func (a *FailureArchive) Resolve(ctx context.Context, id uuid.UUID) error {
	return a.failedEmails.Delete(ctx, id)
}

// retryDelay returns the exponential delay for the given completed retry
// count: base * 2^count.
func (a *FailureArchive) retryDelay(retryCount int) time.Duration {
	return time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(retryCount)))
}
