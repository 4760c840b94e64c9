package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/infodancer/qvm-remote/internal/audit"
	"github.com/infodancer/qvm-remote/internal/prefs"
	"github.com/infodancer/qvm-remote/internal/queue"
	"github.com/infodancer/qvm-remote/internal/submitter"
)

var timeoutFlag int

var rootCmd = &cobra.Command{
	Use:   "qvm-remote [command...]",
	Short: "Queue a command for execution in the control domain and print its result",
	Long: "qvm-remote queues a command for the control domain's executor daemon, waits\n" +
		"for its result, and replays stdout, stderr, and the exit code. With no\n" +
		"arguments it reads the command from stdin.",
	Args:          cobra.ArbitraryArgs,
	RunE:          runSubmit,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&timeoutFlag, "timeout", 0,
		"submit timeout in seconds (default: $QVM_REMOTE_TIMEOUT, then prefs.toml, then 30)")
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(historyCmd())
}

// fail prints msg to stderr and terminates the process with code, matching
// spec.md §7's submitter exit code taxonomy.
func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var body []byte
	if len(args) > 0 {
		body = []byte(strings.Join(args, " "))
	} else {
		read, err := io.ReadAll(os.Stdin)
		if err != nil {
			fail(5, "qvm-remote: reading stdin: %v", err)
		}
		body = read
	}

	sub, err := newSubmitter()
	if err != nil {
		fail(5, "qvm-remote: %v", err)
	}

	result, err := sub.Submit(cmd.Context(), body, resolveTimeout())
	if err != nil {
		exitForSubmitError(err)
	}
	pruneHistoryWithPrefs(sub.Root)
	os.Exit(result.ExitCode)
	return nil
}

// exitForSubmitError maps a submitter error to spec.md §7's submitter exit
// codes and terminates the process; it never returns.
func exitForSubmitError(err error) {
	switch {
	case errors.Is(err, submitter.ErrInvalidInput):
		fail(2, "qvm-remote: %v", err)
	case errors.Is(err, submitter.ErrNoKey):
		fail(3, "qvm-remote: %v", err)
	case errors.Is(err, submitter.ErrTimeout):
		fail(124, "qvm-remote: timed out waiting for a result")
	case errors.Is(err, submitter.ErrIOError):
		fail(5, "qvm-remote: %v", err)
	default:
		fail(4, "qvm-remote: %v", err)
	}
}

// guestQueueRoot migrates a legacy layout if present, ensures the current
// one exists, and returns its root. Every subcommand that touches the
// queue tree goes through this single entry point.
func guestQueueRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	if err := queue.MigrateLegacy(home); err != nil {
		return "", fmt.Errorf("migrating legacy layout: %w", err)
	}
	root := queue.Root(home)
	if err := queue.EnsureLayout(root); err != nil {
		return "", fmt.Errorf("preparing queue layout: %w", err)
	}
	return root, nil
}

// newSubmitter builds a Submitter rooted at the current user's queue tree,
// opening the guest-side audit log along the way.
func newSubmitter() (*submitter.Submitter, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	root, err := guestQueueRoot()
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(queue.AuditLogPath(root))
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return submitter.New(home, auditLog, os.Stdout, os.Stderr), nil
}

// resolveTimeout applies spec.md §7's precedence: --timeout flag, then
// QVM_REMOTE_TIMEOUT, then prefs.toml's default_timeout_seconds, then
// submitter.DefaultTimeout.
func resolveTimeout() time.Duration {
	if timeoutFlag > 0 {
		return time.Duration(timeoutFlag) * time.Second
	}
	if v := os.Getenv("QVM_REMOTE_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p, err := prefs.Load(filepath.Join(home, ".qvm-remote", "prefs.toml"))
		if err == nil && p.DefaultTimeoutSeconds > 0 {
			return time.Duration(p.DefaultTimeoutSeconds) * time.Second
		}
	}
	return submitter.DefaultTimeout
}
