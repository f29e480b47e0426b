// Package config defines the application configuration and loads it from
// environment variables (WATCHDOG_ prefix) and an optional config file,
// validating the result before the application starts.
package config
