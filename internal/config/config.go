// Package config loads and validates the executor daemon's control-side
// configuration: a KEY=VALUE file naming the authorised domain set and a
// handful of tunables (spec.md §6).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the control-side daemon configuration.
type Config struct {
	VMs          []string
	PollInterval time.Duration
	ExecTimeout  time.Duration
	MaxCmdBytes  int64
	MaxOutBytes  int64
	LogLevel     string
	Metrics      MetricsConfig
	HistoryDays  int
}

// MetricsConfig holds configuration for the loopback-only Prometheus server.
type MetricsConfig struct {
	Enabled bool
	Address string
	Path    string
}

// Default returns a Config with the defaults spec.md §6 specifies.
func Default() Config {
	return Config{
		VMs:          nil,
		PollInterval: 1 * time.Second,
		ExecTimeout:  300 * time.Second,
		MaxCmdBytes:  1048576,
		MaxOutBytes:  10485760,
		LogLevel:     "info",
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9123",
			Path:    "/metrics",
		},
		HistoryDays: 30,
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.ExecTimeout <= 0 {
		return errors.New("exec timeout must be positive")
	}
	if c.MaxCmdBytes <= 0 {
		return errors.New("max cmd bytes must be positive")
	}
	if c.MaxOutBytes <= 0 {
		return errors.New("max out bytes must be positive")
	}
	if c.HistoryDays < 0 {
		return errors.New("history days must not be negative")
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	for _, d := range c.VMs {
		if d == "" {
			return errors.New("QVM_REMOTE_VMS contains an empty domain name")
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if !isLoopback(c.Metrics.Address) {
			return fmt.Errorf("metrics address %q must be loopback-only", c.Metrics.Address)
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isLoopback(address string) bool {
	host := address
	if i := strings.LastIndexByte(address, ':'); i >= 0 {
		host = address[:i]
	}
	switch strings.Trim(host, "[]") {
	case "127.0.0.1", "localhost", "::1", "":
		return true
	default:
		return false
	}
}
