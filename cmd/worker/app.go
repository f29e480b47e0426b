package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/watchdogai/report-engine/internal/alert"
	"github.com/watchdogai/report-engine/internal/config"
	"github.com/watchdogai/report-engine/internal/generation"
	"github.com/watchdogai/report-engine/internal/ingest"
	"github.com/watchdogai/report-engine/internal/parsing"
	"github.com/watchdogai/report-engine/internal/platform/imap"
	"github.com/watchdogai/report-engine/internal/platform/postgres"
	"github.com/watchdogai/report-engine/internal/resilience"
	"github.com/watchdogai/report-engine/internal/scheduler"
	"github.com/watchdogai/report-engine/internal/task"
	"github.com/watchdogai/report-engine/internal/workflow"
)

// collaborators holds the external implementations this worker delegates
// to. Nil fields leave the matching workflow step types unregistered;
// workflows using them fail with a clear handler-missing error instead of
// silently succeeding.
type collaborators struct {
	Parser    parsing.Parser
	Generator generation.Generator
}

// application owns every long-lived component of the worker process.
type application struct {
	cfg       *config.Config
	db        *sql.DB
	runner    *task.Runner
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// newApplication wires the full dependency graph: database, stores, the
// shared resilience registry, the ingestion engine, the workflow engine,
// the job runner and the scheduler.
func newApplication(cfg *config.Config, appLogger *slog.Logger) (*application, error) {
	return buildApplication(cfg, appLogger, collaborators{})
}

func buildApplication(cfg *config.Config, appLogger *slog.Logger, collab collaborators) (*application, error) {
	db, err := openDatabase(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	alerter := alert.NewLogAlerter(appLogger)

	registry := resilience.NewRegistry(
		resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.BreakerFailureThreshold,
			SuccessThreshold: cfg.Resilience.BreakerSuccessThreshold,
			ResetTimeout:     cfg.Resilience.BreakerResetTimeout,
		},
		resilience.LimiterConfig{
			MaxRequests: cfg.Resilience.LimiterMaxRequests,
			Window:      cfg.Resilience.LimiterWindow,
		},
		breakerAlerts(alerter, appLogger),
	)

	filterStore := postgres.NewPostgresFilterStore(db, appLogger)
	failedEmailStore := postgres.NewPostgresFailedEmailStore(db, appLogger)
	healthStore := postgres.NewPostgresHealthCheckStore(db, appLogger)
	emailLogStore := postgres.NewPostgresEmailLogStore(db, appLogger)
	jobStore := postgres.NewPostgresJobStore(db, appLogger)
	workflowStore := postgres.NewPostgresWorkflowStore(db, appLogger)
	scheduleStore := postgres.NewPostgresScheduleStore(db, appLogger)

	dialer := imap.NewTLSDialer(imap.Config{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		TLS:         cfg.Mail.TLS,
		AuthTimeout: cfg.Mail.AuthTimeout,
	})

	filters := ingest.NewFilterRegistry(filterStore, appLogger)
	archive := ingest.NewFailureArchive(failedEmailStore, appLogger)
	health := ingest.NewHealthMonitor(
		healthStore, alerter, dialer, registry, cfg.Ingest.AlertThrottle, appLogger)

	retryOpts := resilience.RetryOptions{
		Retries:    cfg.Resilience.RetryAttempts,
		MinTimeout: cfg.Resilience.RetryMinTimeout,
		MaxTimeout: cfg.Resilience.RetryMaxTimeout,
		Factor:     2,
	}

	ingestEngine := ingest.NewEngine(
		dialer, registry, filters, archive, health, jobStore, emailLogStore,
		ingest.EngineConfig{
			DownloadDir:   cfg.Ingest.DownloadDir,
			BatchSize:     cfg.Ingest.BatchSize,
			MaxQueueSize:  cfg.Ingest.MaxQueueSize,
			RateLimitWait: cfg.Ingest.RateLimitWait,
			MarkSeen:      cfg.Ingest.MarkSeen,
			Retry:         retryOpts,
		},
		appLogger,
	)

	wfEngine := workflow.NewEngine(workflowStore, cfg.Workflow.LockLease, appLogger)
	if err := registerStepHandlers(wfEngine, ingestEngine, collab); err != nil {
		return nil, err
	}

	handlers := task.NewRegistry()
	if err := handlers.Register(workflow.NewJobHandler(wfEngine)); err != nil {
		return nil, fmt.Errorf("failed to register job handler: %w", err)
	}

	runner := task.NewRunner(jobStore, handlers, registry, task.RunnerConfig{
		WorkerCount:        cfg.Task.WorkerCount,
		PollInterval:       cfg.Task.PollInterval,
		StuckJobAge:        cfg.Task.StuckJobAge,
		StuckCheckInterval: cfg.Task.StuckCheckInterval,
		Retry:              retryOpts,
	}, appLogger)

	queue := task.NewQueue(jobStore, appLogger)

	sched := scheduler.NewScheduler(
		db, scheduleStore, workflowStore, queue, workflow.ReportPipeline{},
		alerter,
		scheduler.Config{
			PollInterval:           cfg.Scheduler.PollInterval,
			LockLease:              cfg.Workflow.LockLease,
			MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
		},
		appLogger,
	)

	return &application{
		cfg:       cfg,
		db:        db,
		runner:    runner,
		scheduler: sched,
		logger:    appLogger,
	}, nil
}

// registerStepHandlers installs the step handlers this process can serve.
func registerStepHandlers(wfEngine *workflow.Engine, ingestEngine *ingest.Engine, collab collaborators) error {
	if err := wfEngine.RegisterHandler(workflow.NewEmailIngestionHandler(ingestEngine)); err != nil {
		return err
	}
	if collab.Parser != nil {
		if err := wfEngine.RegisterHandler(workflow.NewDataProcessingHandler(collab.Parser)); err != nil {
			return err
		}
	}
	if collab.Generator != nil {
		if err := wfEngine.RegisterHandler(workflow.NewInsightGenerationHandler(collab.Generator)); err != nil {
			return err
		}
	}
	return nil
}

// breakerAlerts notifies the admin when a circuit opens or recovers.
func breakerAlerts(alerter alert.Alerter, appLogger *slog.Logger) resilience.StateChangeFunc {
	return func(name string, from, to resilience.BreakerState) {
		appLogger.Warn("circuit breaker state change",
			slog.String("operation", name),
			slog.String("from", string(from)),
			slog.String("to", string(to)))

		switch to {
		case resilience.BreakerOpen:
			alerter.SendAdminAlert(context.Background(), alert.Alert{
				Title:     fmt.Sprintf("circuit open: %s", name),
				Body:      fmt.Sprintf("operation %q tripped its circuit breaker (was %s)", name, from),
				Severity:  alert.SeverityCritical,
				Component: name,
			})
		case resilience.BreakerClosed:
			alerter.SendAdminAlert(context.Background(), alert.Alert{
				Title:     fmt.Sprintf("circuit closed: %s", name),
				Body:      fmt.Sprintf("operation %q recovered", name),
				Severity:  alert.SeverityInfo,
				Component: name,
			})
		}
	}
}

// openDatabase establishes the pooled database connection and verifies it.
func openDatabase(cfg *config.Config, appLogger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	appLogger.Info("database connection established")
	return db, nil
}

// Start launches the job runner and the scheduler.
func (a *application) Start() error {
	if err := a.runner.Start(); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	a.scheduler.Start()
	a.logger.Info("worker started")
	return nil
}

// Stop drains the scheduler and runner, then closes the database.
func (a *application) Stop() {
	a.scheduler.Stop()
	a.runner.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", slog.String("error", err.Error()))
	}
	a.logger.Info("worker stopped")
}
