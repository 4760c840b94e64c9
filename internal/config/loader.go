package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Flags holds command-line flag values for the executor daemon.
type Flags struct {
	ConfigPath string
	LogLevel   string
	VM         string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "/etc/qubes/remote.conf", "Path to configuration file")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.VM, "vm", "", "Restrict this pass to a single domain")

	flag.Parse()
	return f
}

// Load parses the KEY=VALUE configuration file at path (spec.md §6) and
// returns a Config, merged over Default(). A missing file is not an error;
// it yields the default configuration. Unrecognised keys are reported in
// the returned warnings slice rather than failing the load, so an operator
// upgrading the tool does not get locked out by a newer config file.
func Load(path string) (Config, []string, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil, nil
		}
		return cfg, nil, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	var warnings []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return cfg, warnings, fmt.Errorf("config line %d: expected KEY=VALUE, got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := applyKey(&cfg, key, value); err != nil {
			if err == errUnrecognizedKey {
				warnings = append(warnings, fmt.Sprintf("config line %d: unrecognized key %q", lineNo, key))
				continue
			}
			return cfg, warnings, fmt.Errorf("config line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, warnings, fmt.Errorf("reading config file: %w", err)
	}

	return cfg, warnings, nil
}

var errUnrecognizedKey = fmt.Errorf("unrecognized key")

func applyKey(cfg *Config, key, value string) error {
	switch key {
	case "QVM_REMOTE_VMS":
		cfg.VMs = strings.Fields(value)
	case "QVM_REMOTE_POLL_INTERVAL":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	case "QVM_REMOTE_EXEC_TIMEOUT":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		cfg.ExecTimeout = time.Duration(secs) * time.Second
	case "QVM_REMOTE_MAX_CMD_BYTES":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		cfg.MaxCmdBytes = n
	case "QVM_REMOTE_MAX_OUT_BYTES":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		cfg.MaxOutBytes = n
	case "QVM_REMOTE_LOG_LEVEL":
		cfg.LogLevel = value
	case "QVM_REMOTE_HISTORY_DAYS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		cfg.HistoryDays = n
	case "QVM_REMOTE_METRICS_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		cfg.Metrics.Enabled = b
	case "QVM_REMOTE_METRICS_ADDRESS":
		cfg.Metrics.Address = value
	case "QVM_REMOTE_METRICS_PATH":
		cfg.Metrics.Path = value
	default:
		return errUnrecognizedKey
	}
	return nil
}

// ApplyFlags merges command-line flag values into the config. Non-empty
// flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.VM != "" {
		cfg.VMs = []string{f.VM}
	}
	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags, then
// applies flag overrides.
func LoadWithFlags(f *Flags) (Config, []string, error) {
	cfg, warnings, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, warnings, err
	}
	return ApplyFlags(cfg, f), warnings, nil
}
