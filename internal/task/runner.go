package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/resilience"
	"github.com/watchdogai/report-engine/internal/store"
)

// opJobStart is the rate limiter key bounding how fast workers start jobs.
const opJobStart = "job_start"

// RunnerConfig holds configuration for the job runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers claim jobs.
	WorkerCount int

	// PollInterval is how long an idle worker sleeps between claim
	// attempts.
	PollInterval time.Duration

	// StuckJobAge defines how long a job can sit in processing state
	// before it is considered orphaned and reset.
	StuckJobAge time.Duration

	// StuckCheckInterval defines how often to sweep for stuck jobs.
	StuckCheckInterval time.Duration

	// Retry shapes the backoff between failed attempts of one job.
	Retry resilience.RetryOptions
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        2,
		PollInterval:       time.Second,
		StuckJobAge:        30 * time.Minute,
		StuckCheckInterval: 5 * time.Minute,
		Retry:              resilience.DefaultRetryOptions(),
	}
}

// Runner drives the durable job queue: a pool of workers poll the store,
// claim due jobs atomically, and dispatch them to registered handlers.
// Failed attempts are rescheduled with exponential backoff until the job's
// attempt budget is exhausted, at which point the job fails terminally.
type Runner struct {
	jobs       store.JobStore
	handlers   *Registry
	registry   *resilience.Registry
	config     RunnerConfig
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner creates a Runner. If logger is nil, a default logger will be used.
func NewRunner(jobs store.JobStore, handlers *Registry, registry *resilience.Registry, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultRunnerConfig().WorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}
	if config.StuckJobAge <= 0 {
		config.StuckJobAge = DefaultRunnerConfig().StuckJobAge
	}
	if config.StuckCheckInterval <= 0 {
		config.StuckCheckInterval = DefaultRunnerConfig().StuckCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobs:     jobs,
		handlers: handlers,
		registry: registry,
		config:   config,
		logger:   logger.With(slog.String("component", "job_runner")),
	}
}

// Start recovers jobs orphaned by a previous crash and launches the worker
// pool and the stuck-job monitor.
func (r *Runner) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelFunc = cancel

	// Any job still marked processing at startup belongs to a dead worker.
	reset, err := r.jobs.ResetStuck(ctx, 0)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	if reset > 0 {
		r.logger.Info("recovered orphaned jobs", slog.Int("count", reset))
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	r.wg.Add(1)
	go r.stuckJobMonitor(ctx)

	r.logger.Info("job runner started", slog.Int("workers", r.config.WorkerCount))
	return nil
}

// Stop gracefully shuts down the runner, waiting for in-flight jobs.
func (r *Runner) Stop() {
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.wg.Wait()
	r.logger.Info("job runner stopped")
}

// worker polls for due jobs until the runner is stopped.
func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	log := r.logger.With(slog.Int("worker_id", id))
	log.Debug("starting worker")

	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		job, err := r.jobs.ClaimDue(ctx, time.Now().UTC())
		if err != nil {
			if !errors.Is(err, store.ErrNoDueJobs) && !errors.Is(err, context.Canceled) {
				log.Error("failed to claim job", slog.String("error", err.Error()))
			}
			r.sleep(ctx, r.config.PollInterval)
			continue
		}

		r.processJob(ctx, job, log)
	}
}

// processJob dispatches one claimed job through the job-start rate limiter.
// A rate-limited job is returned to the queue without consuming an attempt.
func (r *Runner) processJob(ctx context.Context, job *domain.Job, log *slog.Logger) {
	log = log.With(
		slog.String("job_id", job.ID.String()),
		slog.String("task_id", job.TaskID))

	handler, ok := r.handlers.Get(job.TaskID)
	if !ok {
		log.Error("no handler registered for task")
		if err := r.jobs.MarkFailed(ctx, job.ID, job.Attempts+1,
			fmt.Sprintf("no handler registered for task %q", job.TaskID)); err != nil {
			log.Error("failed to mark job failed", slog.String("error", err.Error()))
		}
		return
	}

	err := r.registry.Limiter(opJobStart).Execute(ctx, true, r.config.PollInterval, func() error {
		log.Info("processing job", slog.Int("attempts", job.Attempts))
		return handler.Handle(ctx, job)
	})

	if errors.Is(err, domain.ErrRateLimitExceeded) {
		// Not an execution failure: requeue with the attempt count intact.
		if reschedErr := r.jobs.RescheduleFailure(ctx, job.ID, job.Attempts, job.LastError,
			time.Now().UTC().Add(r.config.PollInterval)); reschedErr != nil {
			log.Error("failed to requeue rate-limited job", slog.String("error", reschedErr.Error()))
		}
		return
	}

	if err != nil {
		r.recordFailure(ctx, job, err, log)
		return
	}

	if err := r.jobs.MarkCompleted(ctx, job.ID); err != nil {
		log.Error("failed to mark job completed", slog.String("error", err.Error()))
		return
	}
	log.Info("job completed")
}

// recordFailure consumes one attempt: the job is rescheduled with backoff
// while budget remains and the error is retryable, otherwise it fails
// terminally.
func (r *Runner) recordFailure(ctx context.Context, job *domain.Job, execErr error, log *slog.Logger) {
	attempts := job.Attempts + 1
	log.Error("job execution failed",
		slog.Int("attempts", attempts),
		slog.String("error", execErr.Error()))

	if attempts >= job.MaxAttempts || domain.IsTerminal(execErr) {
		if err := r.jobs.MarkFailed(ctx, job.ID, attempts, execErr.Error()); err != nil {
			log.Error("failed to mark job failed", slog.String("error", err.Error()))
		}
		return
	}

	nextRunAt := time.Now().UTC().Add(r.config.Retry.Backoff(attempts + 1))
	if err := r.jobs.RescheduleFailure(ctx, job.ID, attempts, execErr.Error(), nextRunAt); err != nil {
		log.Error("failed to reschedule job", slog.String("error", err.Error()))
	}
}

// stuckJobMonitor periodically returns jobs stuck in processing state to
// the queue so a wedged handler in a live process cannot strand them.
func (r *Runner) stuckJobMonitor(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reset, err := r.jobs.ResetStuck(ctx, r.config.StuckJobAge)
			if err != nil {
				r.logger.Error("failed to sweep stuck jobs", slog.String("error", err.Error()))
				continue
			}
			if reset > 0 {
				r.logger.Warn("reset stuck jobs", slog.Int("count", reset))
			}
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
