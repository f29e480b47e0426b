package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/imap"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/resilience"
	"github.com/watchdogai/report-engine/internal/store"
)

// opIMAP is the shared guard-stack key for all mail server operations: the
// engine and the health monitor deliberately share one limiter and breaker.
const opIMAP = "imap"

// backpressureReason marks a limiter pause caused by queue depth, so the
// engine only resumes pauses it applied itself.
const backpressureReason = "job queue depth over threshold"

// unsafeFilenameChars matches every character stripped from attachment
// filenames before they touch the filesystem.
var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// EngineConfig holds the tunables for the ingestion engine.
type EngineConfig struct {
	// DownloadDir is the root directory attachments are written under.
	DownloadDir string

	// BatchSize is how many messages are fetched per round trip.
	BatchSize int

	// MaxQueueSize is the pending-job depth above which ingestion is
	// refused and the mail limiter paused. Zero disables backpressure.
	MaxQueueSize int

	// RateLimitWait is how long a fetch waits for limiter admission.
	RateLimitWait time.Duration

	// MarkSeen controls whether processed messages are flagged seen.
	MarkSeen bool

	// Retry is the backoff budget wrapped around each fetch attempt.
	Retry resilience.RetryOptions
}

// DefaultEngineConfig returns an EngineConfig with reasonable defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DownloadDir:   "downloads",
		BatchSize:     20,
		MaxQueueSize:  1000,
		RateLimitWait: 30 * time.Second,
		MarkSeen:      true,
		Retry:         resilience.DefaultRetryOptions(),
	}
}

// FetchResult is one processed email: the attachment files written to disk
// plus the message metadata for downstream processing.
type FetchResult struct {
	FilePaths []string            `json:"file_paths"`
	Metadata  domain.EmailMessage `json:"metadata"`
}

// Engine fetches vendor report emails over IMAP, writes their matching
// attachments to disk, and records the outcome. Every run is guarded by the
// shared rate limiter, circuit breaker and retry stack, and a single
// unprocessable message is archived rather than aborting the batch.
type Engine struct {
	dialer    imap.Dialer
	registry  *resilience.Registry
	filters   *FilterRegistry
	archive   *FailureArchive
	health    *HealthMonitor
	jobs      store.JobStore
	emailLogs store.EmailLogStore
	config    EngineConfig
	logger    *slog.Logger
}

// NewEngine creates an ingestion Engine. If logger is nil, a default logger
// will be used.
func NewEngine(
	dialer imap.Dialer,
	registry *resilience.Registry,
	filters *FilterRegistry,
	archive *FailureArchive,
	health *HealthMonitor,
	jobs store.JobStore,
	emailLogs store.EmailLogStore,
	config EngineConfig,
	logger *slog.Logger,
) *Engine {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultEngineConfig().BatchSize
	}
	if config.RateLimitWait <= 0 {
		config.RateLimitWait = DefaultEngineConfig().RateLimitWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dialer:    dialer,
		registry:  registry,
		filters:   filters,
		archive:   archive,
		health:    health,
		jobs:      jobs,
		emailLogs: emailLogs,
		config:    config,
		logger:    logger.With(slog.String("component", "ingest_engine")),
	}
}

// FetchEmailsWithAttachments runs one ingestion pass for a vendor: resolve
// the vendor filter, search unseen mail, download matching attachments
// under the download directory, dedup by message ID within and across runs,
// and mark processed messages seen. It returns one FetchResult per
// processed email, or domain.ErrReportNotFound when nothing matched.
func (e *Engine) FetchEmailsWithAttachments(ctx context.Context, vendor string) ([]FetchResult, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(slog.String("vendor", vendor))
	ctx = logger.WithLogger(ctx, log)

	if err := e.checkBackpressure(ctx); err != nil {
		return nil, err
	}

	filter := e.filters.GetFilter(ctx, vendor)

	downloadDir := filepath.Join(e.config.DownloadDir, vendor)
	if err := os.MkdirAll(downloadDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create download directory %s: %w", downloadDir, err)
	}

	retryOpts := e.config.Retry
	retryOpts.Retryable = func(err error) bool { return !domain.IsTerminal(err) }
	retryOpts.OnRetry = func(err error, attempt int) {
		log.Warn("fetch attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}

	var (
		results  []FetchResult
		notFound error
		started  = time.Now()
	)
	err := e.registry.Limiter(opIMAP).Execute(ctx, true, e.config.RateLimitWait, func() error {
		return e.registry.Breaker(opIMAP).Execute(ctx, func() error {
			fetchErr := resilience.Retry(ctx, retryOpts, func() error {
				fetched, err := e.fetchOnce(ctx, vendor, downloadDir, filter)
				if err != nil {
					return err
				}
				results = fetched
				return nil
			})
			if errors.Is(fetchErr, domain.ErrReportNotFound) {
				// An empty mailbox is an expected outcome, not a
				// dependency failure; it must not trip the breaker.
				notFound = fetchErr
				return nil
			}
			return fetchErr
		})
	})
	elapsed := time.Since(started)

	if err != nil {
		if !domain.IsTerminal(err) {
			e.health.RecordFailure(ctx, err, elapsed)
		}
		return nil, err
	}

	e.health.RecordSuccess(ctx, elapsed, map[string]any{
		"vendor":    vendor,
		"processed": len(results),
	})

	if notFound != nil {
		return nil, notFound
	}

	log.Info("ingestion run complete",
		slog.Int("processed", len(results)),
		slog.Duration("elapsed", elapsed))
	return results, nil
}

// checkBackpressure refuses the run when the pending-job queue is over the
// configured depth, pausing the mail limiter until a later run observes the
// queue has drained.
func (e *Engine) checkBackpressure(ctx context.Context) error {
	if e.config.MaxQueueSize <= 0 {
		return nil
	}
	log := logger.FromContextOrDefault(ctx, e.logger)

	depth, err := e.jobs.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to check queue depth: %w", err)
	}

	limiter := e.registry.Limiter(opIMAP)
	if depth > e.config.MaxQueueSize {
		limiter.Pause(backpressureReason)
		log.Warn("refusing ingestion run, queue over threshold",
			slog.Int("depth", depth),
			slog.Int("max", e.config.MaxQueueSize))
		return fmt.Errorf("%w: %d pending jobs (max %d)",
			domain.ErrBackpressure, depth, e.config.MaxQueueSize)
	}

	if paused, reason := limiter.Paused(); paused && reason == backpressureReason {
		limiter.Resume()
		log.Info("queue drained, resuming ingestion", slog.Int("depth", depth))
	}
	return nil
}

// fetchOnce is one guarded fetch attempt: dial, search, process every
// matching message, close. Per-message failures are archived and skipped;
// only connection-level errors propagate.
func (e *Engine) fetchOnce(ctx context.Context, vendor, downloadDir string, filter *domain.IngestionFilter) ([]FetchResult, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	session, err := e.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open mail session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Warn("failed to close mail session", slog.String("error", closeErr.Error()))
		}
	}()

	seqNums, err := session.Search(BuildSearchCriteria(filter, time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("mailbox search failed: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, fmt.Errorf("%w: no unseen messages for vendor %s",
			domain.ErrReportNotFound, vendor)
	}

	subjectRe := e.compilePattern(ctx, filter.SubjectRegex, "")
	fileRe := e.compilePattern(ctx, filter.FilePattern, domain.DefaultFilePattern)

	var results []FetchResult
	seenMessageIDs := make(map[string]struct{})

	for start := 0; start < len(seqNums); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(seqNums) {
			end = len(seqNums)
		}

		messages, err := session.Fetch(seqNums[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch fetch failed: %w", err)
		}

		for _, raw := range messages {
			result, ok := e.processMessage(ctx, session, raw, vendor, downloadDir, subjectRe, fileRe, seenMessageIDs)
			if ok {
				results = append(results, result)
			}
		}
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no messages matched filters for vendor %s",
			domain.ErrReportNotFound, vendor)
	}
	return results, nil
}

// processMessage handles one fetched message end to end. Any failure is
// archived and reported false so the batch continues; matched-but-skipped
// messages (dedup, no matching attachments) also report false.
func (e *Engine) processMessage(
	ctx context.Context,
	session imap.Session,
	raw *imap.RawMessage,
	vendor, downloadDir string,
	subjectRe, fileRe *regexp.Regexp,
	seenMessageIDs map[string]struct{},
) (FetchResult, bool) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	parsed, err := imap.ParseMessage(raw)
	if err != nil {
		e.archiveMessage(ctx, domain.EmailMessage{SeqNum: raw.SeqNum, Vendor: vendor}, err, raw.Raw)
		return FetchResult{}, false
	}
	msg := parsed.EmailMessage(vendor)

	if subjectRe != nil && !subjectRe.MatchString(msg.Subject) {
		return FetchResult{}, false
	}

	if msg.MessageID != "" {
		if _, dup := seenMessageIDs[msg.MessageID]; dup {
			return FetchResult{}, false
		}
		processed, err := e.emailLogs.ExistsByMessageID(ctx, vendor, msg.MessageID)
		if err != nil {
			log.Warn("cross-run dedup check failed, processing anyway",
				slog.String("message_id", msg.MessageID),
				slog.String("error", err.Error()))
		} else if processed {
			e.markSeen(ctx, session, msg.SeqNum)
			return FetchResult{}, false
		}
		seenMessageIDs[msg.MessageID] = struct{}{}
	}

	filePaths, err := e.writeAttachments(parsed.Attachments, vendor, downloadDir, fileRe)
	if err != nil {
		e.archiveMessage(ctx, msg, err, raw.Raw)
		return FetchResult{}, false
	}
	if len(filePaths) == 0 {
		return FetchResult{}, false
	}

	e.markSeen(ctx, session, msg.SeqNum)

	if err := e.emailLogs.Create(ctx, domain.NewEmailLog(msg, filePaths)); err != nil {
		log.Warn("failed to record email log",
			slog.String("message_id", msg.MessageID),
			slog.String("error", err.Error()))
	}

	log.Info("processed report email",
		slog.String("subject", msg.Subject),
		slog.String("message_id", msg.MessageID),
		slog.Int("attachments", len(filePaths)))
	return FetchResult{FilePaths: filePaths, Metadata: msg}, true
}

// writeAttachments writes every attachment matching the file pattern to the
// download directory as {vendor}-{unixMillis}-{sanitizedFilename}. Duplicate
// filenames within one message are written once.
func (e *Engine) writeAttachments(attachments []domain.Attachment, vendor, downloadDir string, fileRe *regexp.Regexp) ([]string, error) {
	var filePaths []string
	seenNames := make(map[string]struct{})

	for _, att := range attachments {
		if fileRe != nil && !fileRe.MatchString(att.Filename) {
			continue
		}
		if _, dup := seenNames[att.Filename]; dup {
			continue
		}
		seenNames[att.Filename] = struct{}{}

		name := fmt.Sprintf("%s-%d-%s", vendor, time.Now().UnixMilli(), sanitizeFilename(att.Filename))
		path := filepath.Join(downloadDir, name)
		if err := os.WriteFile(path, att.Content, 0o640); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		filePaths = append(filePaths, path)
	}
	return filePaths, nil
}

// archiveMessage records an unprocessable message in the failed-message
// archive; archive failures are logged inside the archive and never abort
// the batch.
func (e *Engine) archiveMessage(ctx context.Context, msg domain.EmailMessage, processErr error, raw []byte) {
	if _, err := e.archive.Archive(ctx, msg, processErr, raw); err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Error("dropping unarchivable message",
			slog.Uint64("seq_num", uint64(msg.SeqNum)),
			slog.String("error", err.Error()))
	}
}

// markSeen flags one message seen when configured. Best effort: an
// already-downloaded message must not be reprocessed because the flag
// write failed, so the error is only logged.
func (e *Engine) markSeen(ctx context.Context, session imap.Session, seqNum uint32) {
	if !e.config.MarkSeen {
		return
	}
	if err := session.MarkSeen(seqNum); err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Warn("failed to mark message seen",
			slog.Uint64("seq_num", uint64(seqNum)),
			slog.String("error", err.Error()))
	}
}

// compilePattern compiles a filter regex, falling back (with a warning) to
// the given default when the stored pattern is invalid. An empty pattern
// and an empty fallback yield nil, meaning match everything.
func (e *Engine) compilePattern(ctx context.Context, pattern, fallback string) *regexp.Regexp {
	if pattern == "" {
		pattern = fallback
	}
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Warn("invalid filter pattern",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()))
		if fallback == "" || fallback == pattern {
			return nil
		}
		return regexp.MustCompile(fallback)
	}
	return re
}

// sanitizeFilename strips every character outside [A-Za-z0-9._-].
func sanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}
