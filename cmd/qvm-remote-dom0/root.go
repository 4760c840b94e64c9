package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/infodancer/qvm-remote/internal/audit"
	"github.com/infodancer/qvm-remote/internal/config"
	"github.com/infodancer/qvm-remote/internal/logging"
)

// Control-side filesystem layout (spec.md §6).
const (
	defaultConfigPath   = "/etc/qubes/remote.conf"
	defaultKeystoreDir  = "/etc/qubes/remote.d"
	defaultAuditLogPath = "/var/log/qubes/qvm-remote.log"
	defaultTmpDir       = "/run/qvm-remote"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "qvm-remote-dom0",
	Short: "Control-domain daemon and admin CLI for the qvm-remote command queue",
	Long: "qvm-remote-dom0 polls authorised guest domains' command queues over the\n" +
		"guest-exec primitive, authenticates and executes each request in a\n" +
		"sandbox, and writes its result back to the guest.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", defaultConfigPath, "path to the control-side configuration file")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(authorizeCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(enableCmd())
	rootCmd.AddCommand(disableCmd())
}

func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

// loadConfig reads and validates the control-side configuration, failing
// the process on a fatal startup error (spec.md §7 "the daemon recovers
// from everything except fatal startup errors").
func loadConfig() config.Config {
	cfg, warnings, err := config.Load(configPathFlag)
	if err != nil {
		fail(1, "qvm-remote-dom0: loading %s: %v", configPathFlag, err)
	}
	if err := cfg.Validate(); err != nil {
		fail(1, "qvm-remote-dom0: invalid configuration: %v", err)
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "qvm-remote-dom0: "+w)
	}
	return cfg
}

func newDaemonLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(cfg.LogLevel)
}

// openAuditLog opens the daemon-side audit log, creating its parent
// directory if necessary.
func openAuditLog() (*audit.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(defaultAuditLogPath), 0700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	return audit.Open(defaultAuditLogPath)
}
