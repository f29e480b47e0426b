package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WATCHDOG_DATABASE_URL", "postgres://localhost:5432/watchdog?sslmode=disable")
	t.Setenv("WATCHDOG_MAIL_HOST", "imap.vendor.example")
	t.Setenv("WATCHDOG_MAIL_USERNAME", "reports@dealer.example")
	t.Setenv("WATCHDOG_MAIL_PASSWORD", "secret")
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WATCHDOG_MAIL_PORT", "143")
	t.Setenv("WATCHDOG_TASK_WORKER_COUNT", "4")
	t.Setenv("WATCHDOG_INGEST_RATE_LIMIT_WAIT", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/watchdog?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, "imap.vendor.example", cfg.Mail.Host)
	assert.Equal(t, 143, cfg.Mail.Port)
	assert.Equal(t, 4, cfg.Task.WorkerCount)
	assert.Equal(t, 10*time.Second, cfg.Ingest.RateLimitWait)
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 993, cfg.Mail.Port)
	assert.True(t, cfg.Mail.TLS)
	assert.Equal(t, 30*time.Second, cfg.Mail.AuthTimeout)
	assert.Equal(t, "downloads", cfg.Ingest.DownloadDir)
	assert.Equal(t, 20, cfg.Ingest.BatchSize)
	assert.Equal(t, 1000, cfg.Ingest.MaxQueueSize)
	assert.Equal(t, 15*time.Minute, cfg.Ingest.AlertThrottle)
	assert.Equal(t, 2, cfg.Task.WorkerCount)
	assert.Equal(t, 30*time.Minute, cfg.Task.StuckJobAge)
	assert.Equal(t, 5, cfg.Resilience.BreakerFailureThreshold)
	assert.Equal(t, time.Minute, cfg.Resilience.LimiterWindow)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 3, cfg.Scheduler.MaxConsecutiveFailures)
	assert.Equal(t, 10*time.Minute, cfg.Workflow.LockLease)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("WATCHDOG_DATABASE_URL", "")
	t.Setenv("WATCHDOG_MAIL_HOST", "imap.vendor.example")
	t.Setenv("WATCHDOG_MAIL_USERNAME", "reports@dealer.example")
	t.Setenv("WATCHDOG_MAIL_PASSWORD", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WATCHDOG_SERVER_LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
