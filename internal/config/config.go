package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Mail       MailConfig       `mapstructure:"mail" validate:"required"`
	Ingest     IngestConfig     `mapstructure:"ingest" validate:"required"`
	Task       TaskConfig       `mapstructure:"task" validate:"required"`
	Resilience ResilienceConfig `mapstructure:"resilience" validate:"required"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" validate:"required"`
	Workflow   WorkflowConfig   `mapstructure:"workflow" validate:"required"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// MailConfig contains the IMAP server connection settings.
type MailConfig struct {
	Host        string        `mapstructure:"host" validate:"required"`
	Port        int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	Username    string        `mapstructure:"username" validate:"required"`
	Password    string        `mapstructure:"password" validate:"required"`
	TLS         bool          `mapstructure:"tls"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout" validate:"required,gt=0"`
}

// IngestConfig contains ingestion engine settings.
type IngestConfig struct {
	DownloadDir   string        `mapstructure:"download_dir" validate:"required"`
	BatchSize     int           `mapstructure:"batch_size" validate:"required,gt=0"`
	MaxQueueSize  int           `mapstructure:"max_queue_size" validate:"gte=0"`
	RateLimitWait time.Duration `mapstructure:"rate_limit_wait" validate:"required,gt=0"`
	MarkSeen      bool          `mapstructure:"mark_seen"`
	AlertThrottle time.Duration `mapstructure:"alert_throttle" validate:"required,gt=0"`
}

// TaskConfig contains job runner settings.
type TaskConfig struct {
	WorkerCount        int           `mapstructure:"worker_count" validate:"required,gt=0"`
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
	StuckJobAge        time.Duration `mapstructure:"stuck_job_age" validate:"required,gt=0"`
	StuckCheckInterval time.Duration `mapstructure:"stuck_check_interval" validate:"required,gt=0"`
}

// ResilienceConfig contains the shared guard-stack thresholds.
type ResilienceConfig struct {
	BreakerFailureThreshold int           `mapstructure:"breaker_failure_threshold" validate:"required,gt=0"`
	BreakerSuccessThreshold int           `mapstructure:"breaker_success_threshold" validate:"required,gt=0"`
	BreakerResetTimeout     time.Duration `mapstructure:"breaker_reset_timeout" validate:"required,gt=0"`
	LimiterMaxRequests      int           `mapstructure:"limiter_max_requests" validate:"required,gt=0"`
	LimiterWindow           time.Duration `mapstructure:"limiter_window" validate:"required,gt=0"`
	RetryAttempts           int           `mapstructure:"retry_attempts" validate:"required,gt=0"`
	RetryMinTimeout         time.Duration `mapstructure:"retry_min_timeout" validate:"required,gt=0"`
	RetryMaxTimeout         time.Duration `mapstructure:"retry_max_timeout" validate:"required,gt=0"`
}

// SchedulerConfig contains scheduler settings.
type SchedulerConfig struct {
	PollInterval           time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" validate:"required,gt=0"`
}

// WorkflowConfig contains workflow engine settings.
type WorkflowConfig struct {
	LockLease time.Duration `mapstructure:"lock_lease" validate:"required,gt=0"`
}
