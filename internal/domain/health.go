package domain

import "time"

// HealthStatus represents the reported state of a monitored subsystem.
type HealthStatus string

// Possible health status values
const (
	HealthStatusOK      HealthStatus = "ok"
	HealthStatusWarning HealthStatus = "warning"
	HealthStatusError   HealthStatus = "error"
)

// Well-known health check keys. One row exists per monitored subsystem.
const (
	HealthCheckIMAP = "imap"
)

// HealthCheck is the single upserted row describing the latest probe or
// ingestion outcome for a subsystem. Dashboards and alerting read the
// latest row per key.
type HealthCheck struct {
	ID           string         `json:"id"`
	Status       HealthStatus   `json:"status"`
	ResponseTime time.Duration  `json:"response_time"`
	LastChecked  time.Time      `json:"last_checked"`
	Message      string         `json:"message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// IsError reports whether the record currently marks the subsystem unhealthy.
func (h *HealthCheck) IsError() bool {
	return h.Status == HealthStatusError
}
