package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, warnings, err := Load("/nonexistent/path/remote.conf")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if warnings != nil {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if cfg.PollInterval != Default().PollInterval {
		t.Errorf("expected default poll interval, got %v", cfg.PollInterval)
	}
}

func TestLoadValidConfig(t *testing.T) {
	content := `
# authorised domains
QVM_REMOTE_VMS=work personal
QVM_REMOTE_POLL_INTERVAL=5
QVM_REMOTE_EXEC_TIMEOUT=60
QVM_REMOTE_MAX_CMD_BYTES=2048
QVM_REMOTE_MAX_OUT_BYTES=4096
QVM_REMOTE_LOG_LEVEL=debug
`
	path := createTempConfig(t, content)

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(cfg.VMs) != 2 || cfg.VMs[0] != "work" || cfg.VMs[1] != "personal" {
		t.Errorf("VMs = %v, want [work personal]", cfg.VMs)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.ExecTimeout != 60*time.Second {
		t.Errorf("ExecTimeout = %v, want 60s", cfg.ExecTimeout)
	}
	if cfg.MaxCmdBytes != 2048 {
		t.Errorf("MaxCmdBytes = %d, want 2048", cfg.MaxCmdBytes)
	}
	if cfg.MaxOutBytes != 4096 {
		t.Errorf("MaxOutBytes = %d, want 4096", cfg.MaxOutBytes)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadPartialConfigUsesDefaults(t *testing.T) {
	content := "QVM_REMOTE_VMS=work\n"
	path := createTempConfig(t, content)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defaults := Default()
	if cfg.PollInterval != defaults.PollInterval {
		t.Errorf("PollInterval = %v, want default %v", cfg.PollInterval, defaults.PollInterval)
	}
	if cfg.ExecTimeout != defaults.ExecTimeout {
		t.Errorf("ExecTimeout = %v, want default %v", cfg.ExecTimeout, defaults.ExecTimeout)
	}
}

func TestLoadMalformedLineErrors(t *testing.T) {
	content := "this is not key=value... actually it has no equals sign at all"
	path := createTempConfig(t, content)

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed line, got nil")
	}
}

func TestLoadUnrecognizedKeyWarns(t *testing.T) {
	content := "QVM_REMOTE_VMS=work\nQVM_REMOTE_BOGUS=1\n"
	path := createTempConfig(t, content)

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want 1 entry", warnings)
	}
	if len(cfg.VMs) != 1 || cfg.VMs[0] != "work" {
		t.Errorf("VMs = %v, want [work]", cfg.VMs)
	}
}

func TestLoadInvalidIntegerErrors(t *testing.T) {
	content := "QVM_REMOTE_POLL_INTERVAL=not-a-number\n"
	path := createTempConfig(t, content)

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid integer, got nil")
	}
}

func TestApplyFlagsOverridesLogLevelAndVM(t *testing.T) {
	cfg := Default()
	cfg.VMs = []string{"work", "personal"}

	result := ApplyFlags(cfg, &Flags{LogLevel: "debug", VM: "work"})

	if result.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", result.LogLevel)
	}
	if len(result.VMs) != 1 || result.VMs[0] != "work" {
		t.Errorf("VMs = %v, want [work]", result.VMs)
	}
}

func TestApplyFlagsEmptyValuesDoNotOverride(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.VMs = []string{"work"}

	result := ApplyFlags(cfg, &Flags{})

	if result.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (should not be overridden)", result.LogLevel)
	}
	if len(result.VMs) != 1 || result.VMs[0] != "work" {
		t.Errorf("VMs = %v, want [work] (should not be overridden)", result.VMs)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "remote.conf")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	return path
}
