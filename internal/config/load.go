package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WATCHDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional; environment variables alone are a
	// complete configuration.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")

	// Empty defaults register the keys with viper so AutomaticEnv can see
	// them; validation rejects the empty values if the variables are unset.
	v.SetDefault("database.url", "")

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.port", 993)
	v.SetDefault("mail.tls", true)
	v.SetDefault("mail.auth_timeout", "30s")

	v.SetDefault("ingest.download_dir", "downloads")
	v.SetDefault("ingest.batch_size", 20)
	v.SetDefault("ingest.max_queue_size", 1000)
	v.SetDefault("ingest.rate_limit_wait", "30s")
	v.SetDefault("ingest.mark_seen", true)
	v.SetDefault("ingest.alert_throttle", "15m")

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.poll_interval", "1s")
	v.SetDefault("task.stuck_job_age", "30m")
	v.SetDefault("task.stuck_check_interval", "5m")

	v.SetDefault("resilience.breaker_failure_threshold", 5)
	v.SetDefault("resilience.breaker_success_threshold", 2)
	v.SetDefault("resilience.breaker_reset_timeout", "60s")
	v.SetDefault("resilience.limiter_max_requests", 10)
	v.SetDefault("resilience.limiter_window", "1m")
	v.SetDefault("resilience.retry_attempts", 5)
	v.SetDefault("resilience.retry_min_timeout", "1s")
	v.SetDefault("resilience.retry_max_timeout", "60s")

	v.SetDefault("scheduler.poll_interval", "30s")
	v.SetDefault("scheduler.max_consecutive_failures", 3)

	v.SetDefault("workflow.lock_lease", "10m")
}
