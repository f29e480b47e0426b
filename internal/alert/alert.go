// Package alert defines the admin alerting boundary. Delivery (email, chat,
// pager) is an external collaborator; alerts are fire-and-forget and
// delivery failures are logged, never propagated.
package alert

import (
	"context"
	"log/slog"

	"github.com/watchdogai/report-engine/internal/redact"
)

// Severity classifies an admin alert.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one admin notification.
type Alert struct {
	Title     string
	Body      string
	Severity  Severity
	Component string
	Details   map[string]any
}

// Alerter sends admin alerts. Implementations must not block the caller on
// delivery and must swallow (but log) delivery failures.
type Alerter interface {
	SendAdminAlert(ctx context.Context, a Alert)
}

// LogAlerter is the default Alerter: it writes alerts to the structured
// log. Used when no delivery collaborator is configured.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter. If logger is nil, a default logger
// will be used.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger.With(slog.String("component", "alerter"))}
}

// Ensure LogAlerter implements the Alerter interface
var _ Alerter = (*LogAlerter)(nil)

// SendAdminAlert implements Alerter.
func (a *LogAlerter) SendAdminAlert(_ context.Context, alert Alert) {
	level := slog.LevelWarn
	if alert.Severity == SeverityCritical {
		level = slog.LevelError
	}
	a.logger.Log(context.Background(), level, "admin alert",
		slog.String("title", alert.Title),
		slog.String("body", redact.String(alert.Body)),
		slog.String("severity", string(alert.Severity)),
		slog.String("alert_component", alert.Component),
		slog.Any("details", alert.Details))
}
