package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/watchdogai/report-engine/internal/alert"
	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
	"github.com/watchdogai/report-engine/internal/task"
	"github.com/watchdogai/report-engine/internal/workflow"
)

// cronParser accepts standard five-field expressions plus descriptors like
// @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// DefaultMaxConsecutiveFailures is how many trigger failures in a row move
// a schedule to failed, requiring a manual retry.
const DefaultMaxConsecutiveFailures = 3

// WorkflowFactory builds the step list for a schedule that is not yet bound
// to a workflow. The intent and platform come from the schedule row.
type WorkflowFactory interface {
	BuildSteps(intent, platform string) ([]domain.WorkflowStep, error)
}

// Config holds the scheduler tunables.
type Config struct {
	// PollInterval is how often due schedules are swept.
	PollInterval time.Duration

	// LockLease mirrors the workflow engine's lease: a schedule bound to a
	// workflow whose lock is younger than this is skipped, not advanced.
	LockLease time.Duration

	// MaxConsecutiveFailures is the trigger-failure run that fails a
	// schedule.
	MaxConsecutiveFailures int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:           30 * time.Second,
		LockLease:              workflow.DefaultLockLease,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
}

// Scheduler sweeps due schedules and enqueues workflow execution jobs at
// high priority so scheduled work jumps ahead of backfill in the queue.
type Scheduler struct {
	db         *sql.DB
	schedules  store.ScheduleStore
	workflows  store.WorkflowStore
	queue      *task.Queue
	factory    WorkflowFactory
	alerter    alert.Alerter
	config     Config
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler creates a Scheduler. When db is non-nil, each trigger's
// writes (workflow creation, job enqueue, schedule advance) commit or roll
// back as one transaction. If logger is nil, a default logger will be used.
func NewScheduler(
	db *sql.DB,
	schedules store.ScheduleStore,
	workflows store.WorkflowStore,
	queue *task.Queue,
	factory WorkflowFactory,
	alerter alert.Alerter,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.LockLease <= 0 {
		config.LockLease = DefaultConfig().LockLease
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		db:        db,
		schedules: schedules,
		workflows: workflows,
		queue:     queue,
		factory:   factory,
		alerter:   alerter,
		config:    config,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// CreateSchedule validates the cron expression, computes the first run
// time, and persists an active schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, intent, platform, cronExpr string) (*domain.Schedule, error) {
	next, err := NextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q: %v", domain.ErrValidation, cronExpr, err)
	}

	sched, err := domain.NewSchedule(intent, platform, cronExpr)
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = &next

	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Start launches the poll loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.logger.Info("scheduler started",
		slog.Duration("poll_interval", s.config.PollInterval))
}

// Stop shuts the poll loop down and waits for an in-flight sweep.
func (s *Scheduler) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep: every due schedule is triggered, each in isolation
// so one bad schedule cannot block the rest.
func (s *Scheduler) Tick(ctx context.Context) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	due, err := s.schedules.ListDue(ctx, time.Now().UTC())
	if err != nil {
		log.Error("failed to list due schedules", slog.String("error", err.Error()))
		return
	}

	for _, sched := range due {
		s.trigger(ctx, sched)
	}
}

// trigger fires one due schedule: resolve its workflow, enqueue the
// execution job at high priority, and advance next_run_at. A schedule whose
// workflow holds a live lock is left untouched so the same trigger fires
// again on the next sweep. The trigger mutates a copy of the schedule, so a
// failed or rolled-back fire leaves the caller's row unchanged for the
// failure bookkeeping.
func (s *Scheduler) trigger(ctx context.Context, sched *domain.Schedule) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("schedule_id", sched.ID.String()))

	attempt := *sched

	var (
		wf   *domain.Workflow
		skip bool
		err  error
	)
	if s.db != nil {
		err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			var fireErr error
			wf, skip, fireErr = s.fire(ctx, &attempt,
				s.schedules.WithTx(tx), s.workflows.WithTx(tx), s.queue.WithTx(tx))
			return fireErr
		})
	} else {
		wf, skip, err = s.fire(ctx, &attempt, s.schedules, s.workflows, s.queue)
	}
	if err != nil {
		s.recordTriggerFailure(ctx, sched, err)
		return
	}
	if skip {
		log.Info("workflow locked, deferring trigger",
			slog.String("workflow_id", wf.ID.String()))
		return
	}

	*sched = attempt
	log.Info("schedule triggered",
		slog.String("workflow_id", wf.ID.String()),
		slog.Time("next_run_at", *sched.NextRunAt))
}

// fire performs one trigger's writes against the given stores, which may be
// transaction-bound.
func (s *Scheduler) fire(
	ctx context.Context,
	sched *domain.Schedule,
	schedules store.ScheduleStore,
	workflows store.WorkflowStore,
	queue *task.Queue,
) (wf *domain.Workflow, skip bool, err error) {
	wf, skip, err = s.resolveWorkflow(ctx, sched, workflows)
	if err != nil || skip {
		return wf, skip, err
	}

	payload, err := workflow.NewExecutionPayload(wf.ID, true)
	if err != nil {
		return nil, false, err
	}
	if _, err := queue.Enqueue(ctx, workflow.TaskWorkflowExecution, payload, domain.JobPriorityHigh); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	next, err := NextRun(sched.CronExpr, now)
	if err != nil {
		return nil, false, err
	}

	sched.LastRunAt = &now
	sched.NextRunAt = &next
	sched.RetryCount = 0
	sched.UpdatedAt = now
	if err := schedules.Update(ctx, sched); err != nil {
		return nil, false, fmt.Errorf("failed to advance schedule: %w", err)
	}
	return wf, false, nil
}

// resolveWorkflow returns the workflow instance this trigger should run. A
// bound workflow still in flight is reused; a terminal or missing one is
// replaced with a fresh instance built from the schedule's intent, so a
// recurring schedule does real work on every trigger. skip is true when the
// bound workflow holds a lock younger than the lease.
func (s *Scheduler) resolveWorkflow(ctx context.Context, sched *domain.Schedule, workflows store.WorkflowStore) (wf *domain.Workflow, skip bool, err error) {
	if sched.WorkflowID != nil {
		wf, err = workflows.GetByID(ctx, *sched.WorkflowID)
		if err != nil && !errors.Is(err, store.ErrWorkflowNotFound) {
			return nil, false, fmt.Errorf("failed to load scheduled workflow: %w", err)
		}
		if err == nil {
			if wf.Locked && !wf.LockExpired(s.config.LockLease) {
				return wf, true, nil
			}
			if !wf.IsTerminal() {
				return wf, false, nil
			}
		}
	}

	steps, err := s.factory.BuildSteps(sched.Intent, sched.Platform)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build workflow steps: %w", err)
	}
	wf, err = domain.NewWorkflow(nil, steps)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build scheduled workflow: %w", err)
	}
	if err := workflows.Create(ctx, wf); err != nil {
		return nil, false, fmt.Errorf("failed to create scheduled workflow: %w", err)
	}

	sched.WorkflowID = &wf.ID
	return wf, false, nil
}

// recordTriggerFailure counts one failed trigger. The schedule keeps its
// due next_run_at so the next sweep retries, until the consecutive-failure
// threshold moves it to failed and raises an admin alert.
func (s *Scheduler) recordTriggerFailure(ctx context.Context, sched *domain.Schedule, triggerErr error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("schedule_id", sched.ID.String()))

	sched.RetryCount++
	sched.UpdatedAt = time.Now().UTC()

	log.Error("schedule trigger failed",
		slog.Int("retry_count", sched.RetryCount),
		slog.String("error", triggerErr.Error()))

	if sched.RetryCount >= s.config.MaxConsecutiveFailures {
		sched.Status = domain.ScheduleStatusFailed
		s.alerter.SendAdminAlert(ctx, alert.Alert{
			Title:     "schedule failed",
			Body:      fmt.Sprintf("schedule %s failed %d consecutive triggers: %v", sched.ID, sched.RetryCount, triggerErr),
			Severity:  alert.SeverityCritical,
			Component: "scheduler",
		})
	}

	if err := s.schedules.Update(ctx, sched); err != nil {
		log.Error("failed to persist schedule failure", slog.String("error", err.Error()))
	}
}

// RetrySchedule manually reactivates a failed schedule with a fresh
// next_run_at computed from its cron expression.
func (s *Scheduler) RetrySchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	sched, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next, err := NextRun(sched.CronExpr, now)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q: %v", domain.ErrValidation, sched.CronExpr, err)
	}

	sched.Status = domain.ScheduleStatusActive
	sched.RetryCount = 0
	sched.Enabled = true
	sched.NextRunAt = &next
	sched.UpdatedAt = now
	if err := s.schedules.Update(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// NextRun computes the next fire time for a cron expression strictly after
// the given instant.
func NextRun(cronExpr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}
