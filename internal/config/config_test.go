package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.PollInterval != time.Second {
		t.Errorf("expected poll interval 1s, got %v", cfg.PollInterval)
	}
	if cfg.ExecTimeout != 300*time.Second {
		t.Errorf("expected exec timeout 300s, got %v", cfg.ExecTimeout)
	}
	if cfg.MaxCmdBytes != 1048576 {
		t.Errorf("expected max cmd bytes 1048576, got %d", cfg.MaxCmdBytes)
	}
	if cfg.MaxOutBytes != 10485760 {
		t.Errorf("expected max out bytes 10485760, got %d", cfg.MaxOutBytes)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled by default")
	}
	if cfg.HistoryDays != 30 {
		t.Errorf("expected history days 30, got %d", cfg.HistoryDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"negative exec timeout", func(c *Config) { c.ExecTimeout = -1 }, true},
		{"zero max cmd bytes", func(c *Config) { c.MaxCmdBytes = 0 }, true},
		{"zero max out bytes", func(c *Config) { c.MaxOutBytes = 0 }, true},
		{"negative history days", func(c *Config) { c.HistoryDays = -1 }, true},
		{"invalid log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"empty domain name", func(c *Config) { c.VMs = []string{"work", ""} }, true},
		{
			"metrics enabled without address",
			func(c *Config) { c.Metrics = MetricsConfig{Enabled: true} },
			true,
		},
		{
			"metrics enabled on non-loopback address",
			func(c *Config) {
				c.Metrics = MetricsConfig{Enabled: true, Address: "0.0.0.0:9123", Path: "/metrics"}
			},
			true,
		},
		{
			"metrics enabled with loopback address",
			func(c *Config) {
				c.Metrics = MetricsConfig{Enabled: true, Address: "127.0.0.1:9123", Path: "/metrics"}
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		address string
		want    bool
	}{
		{"127.0.0.1:9123", true},
		{"localhost:9123", true},
		{"[::1]:9123", true},
		{":9123", true},
		{"0.0.0.0:9123", false},
		{"192.168.1.5:9123", false},
	}
	for _, tt := range tests {
		if got := isLoopback(tt.address); got != tt.want {
			t.Errorf("isLoopback(%q) = %v, want %v", tt.address, got, tt.want)
		}
	}
}
