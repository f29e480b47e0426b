package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/watchdogai/report-engine/internal/alert"
	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/imap"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/redact"
	"github.com/watchdogai/report-engine/internal/resilience"
	"github.com/watchdogai/report-engine/internal/store"
)

// defaultAlertThrottle suppresses repeat alerts for a subsystem that is
// already known to be unhealthy.
const defaultAlertThrottle = 15 * time.Minute

// HealthMonitor maintains the upserted health record for the mail
// subsystem and raises throttled admin alerts when it degrades. A fresh
// alert goes out only on the transition into error state, or when the
// throttle window has elapsed since the last one.
type HealthMonitor struct {
	healthChecks store.HealthCheckStore
	alerter      alert.Alerter
	dialer       imap.Dialer
	registry     *resilience.Registry
	throttle     time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	lastStatus  domain.HealthStatus
	lastAlertAt time.Time
}

// NewHealthMonitor creates a HealthMonitor. throttle <= 0 selects the
// default 15 minutes. If logger is nil, a default logger will be used.
func NewHealthMonitor(
	healthChecks store.HealthCheckStore,
	alerter alert.Alerter,
	dialer imap.Dialer,
	registry *resilience.Registry,
	throttle time.Duration,
	logger *slog.Logger,
) *HealthMonitor {
	if throttle <= 0 {
		throttle = defaultAlertThrottle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		healthChecks: healthChecks,
		alerter:      alerter,
		dialer:       dialer,
		registry:     registry,
		throttle:     throttle,
		logger:       logger.With(slog.String("component", "health_monitor")),
	}
}

// PingConnection probes the mail server by dialing an authenticated
// session through the shared guard stack, then records the outcome. The
// returned record is the row that was upserted.
func (m *HealthMonitor) PingConnection(ctx context.Context) (*domain.HealthCheck, error) {
	start := time.Now()

	opts := resilience.RetryOptions{
		Retries:    2,
		MinTimeout: time.Second,
		MaxTimeout: 5 * time.Second,
		Factor:     2,
		Retryable:  func(err error) bool { return !domain.IsTerminal(err) },
	}

	err := m.registry.Limiter(opIMAP).Execute(ctx, false, 0, func() error {
		return m.registry.Breaker(opIMAP).Execute(ctx, func() error {
			return resilience.Retry(ctx, opts, func() error {
				session, dialErr := m.dialer.Dial(ctx)
				if dialErr != nil {
					return dialErr
				}
				return session.Close()
			})
		})
	})

	elapsed := time.Since(start)
	if err != nil {
		return m.RecordFailure(ctx, err, elapsed), err
	}
	return m.RecordSuccess(ctx, elapsed, nil), nil
}

// RecordSuccess upserts a healthy record and clears the alert throttle
// state.
func (m *HealthMonitor) RecordSuccess(ctx context.Context, responseTime time.Duration, details map[string]any) *domain.HealthCheck {
	log := logger.FromContextOrDefault(ctx, m.logger)

	hc := &domain.HealthCheck{
		ID:           domain.HealthCheckIMAP,
		Status:       domain.HealthStatusOK,
		ResponseTime: responseTime,
		LastChecked:  time.Now().UTC(),
		Details:      details,
	}
	if err := m.healthChecks.Upsert(ctx, hc); err != nil {
		log.Error("failed to record health check",
			slog.String("check", hc.ID),
			slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.lastStatus = domain.HealthStatusOK
	m.mu.Unlock()
	return hc
}

// RecordFailure upserts an error record and sends a throttled admin alert.
func (m *HealthMonitor) RecordFailure(ctx context.Context, probeErr error, responseTime time.Duration) *domain.HealthCheck {
	log := logger.FromContextOrDefault(ctx, m.logger)

	hc := &domain.HealthCheck{
		ID:           domain.HealthCheckIMAP,
		Status:       domain.HealthStatusError,
		ResponseTime: responseTime,
		LastChecked:  time.Now().UTC(),
		Message:      redact.Error(probeErr),
	}
	if err := m.healthChecks.Upsert(ctx, hc); err != nil {
		log.Error("failed to record health check",
			slog.String("check", hc.ID),
			slog.String("error", err.Error()))
	}

	if m.shouldAlert() {
		m.alerter.SendAdminAlert(ctx, alert.Alert{
			Title:     "mail connection unhealthy",
			Body:      redact.Error(probeErr),
			Severity:  alert.SeverityCritical,
			Component: domain.HealthCheckIMAP,
			Details: map[string]any{
				"response_time_ms": responseTime.Milliseconds(),
			},
		})
	}
	return hc
}

// GetSummary returns the latest record for every monitored subsystem.
func (m *HealthMonitor) GetSummary(ctx context.Context) ([]*domain.HealthCheck, error) {
	return m.healthChecks.List(ctx)
}

// shouldAlert admits an alert on the transition into error state, or when
// the throttle window has elapsed since the previous alert.
func (m *HealthMonitor) shouldAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.lastStatus == domain.HealthStatusError && now.Sub(m.lastAlertAt) < m.throttle {
		return false
	}
	m.lastStatus = domain.HealthStatusError
	m.lastAlertAt = now
	return true
}
