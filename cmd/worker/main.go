// Package main implements the report engine worker: it ingests dealership
// report emails over IMAP, runs durable workflows off the job queue, and
// fires cron schedules.
package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/watchdogai/report-engine/internal/config"
	"github.com/watchdogai/report-engine/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	slog.Info("worker configuration loaded",
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("mail_host", cfg.Mail.Host),
		slog.Int("worker_count", cfg.Task.WorkerCount))

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Block until asked to stop, then drain gracefully.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("shutdown signal received", slog.String("signal", sig.String()))

	app.Stop()
}
