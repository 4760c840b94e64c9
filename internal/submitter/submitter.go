// Package submitter implements the guest-resident CLI engine: it turns a
// single command into a queued request, polls for its result, replays the
// outcome to the caller, and archives the transaction (spec.md §4.1).
package submitter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/infodancer/qvm-remote/internal/audit"
	"github.com/infodancer/qvm-remote/internal/cid"
	"github.com/infodancer/qvm-remote/internal/hmacauth"
	"github.com/infodancer/qvm-remote/internal/keystore"
	"github.com/infodancer/qvm-remote/internal/queue"
)

// MaxCommandBytes bounds a submitted command body (spec.md §4.1 input
// constraints).
const MaxCommandBytes = 1 << 20 // 1 MiB

// DefaultTimeout is used when the caller specifies none.
const DefaultTimeout = 30 * time.Second

// pollInterval is the nominal poll-for-result tick (spec.md §4.1).
const pollInterval = 200 * time.Millisecond

// TimeoutExitCode is the sentinel exit code a local submit timeout
// reports (spec.md §7 "timeout-local").
const TimeoutExitCode = 124

// Error kinds matching spec.md §7's submitter taxonomy.
var (
	ErrInvalidInput = errors.New("invalid-input")
	ErrNoKey        = errors.New("no-key")
	ErrSubmitFailed = errors.New("submit-failed")
	ErrTimeout      = errors.New("timeout")
	ErrIOError      = errors.New("ioerror")
)

// Submitter holds the guest-side state needed to enqueue and await a
// single request: the queue root, the guest audit log, and the writers
// the result's stdout and stderr are replayed to. The mirrored key is
// read from the queue root on every Submit.
type Submitter struct {
	Root    string
	AuthLog *audit.Logger
	Stdout  io.Writer
	Stderr  io.Writer
}

// New creates a Submitter rooted at home's queue tree.
func New(home string, authLog *audit.Logger, stdout, stderr io.Writer) *Submitter {
	return &Submitter{
		Root:    queue.Root(home),
		AuthLog: authLog,
		Stdout:  stdout,
		Stderr:  stderr,
	}
}

// ValidateCommand checks command against spec.md §4.1's input
// constraints: non-empty after trimming outer whitespace, at most
// MaxCommandBytes, free of NUL bytes and of control characters other
// than tab, newline, and carriage return.
func ValidateCommand(command []byte) error {
	if len(command) > MaxCommandBytes {
		return fmt.Errorf("%w: command exceeds %d bytes", ErrInvalidInput, MaxCommandBytes)
	}
	if len(bytes.TrimSpace(command)) == 0 {
		return fmt.Errorf("%w: command is empty", ErrInvalidInput)
	}
	for _, b := range command {
		if b == 0 {
			return fmt.Errorf("%w: command contains a NUL byte", ErrInvalidInput)
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return fmt.Errorf("%w: command contains control byte 0x%02x", ErrInvalidInput, b)
		}
	}
	return nil
}

// Result is the outcome of a completed request, as observed by the
// submitter.
type Result struct {
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	DurationMS int64
	TimedOut   bool
	TruncOut   bool
	TruncErr   bool
}

// Submit enqueues command, waits up to timeout for a result, replays
// stdout/stderr, archives the transaction, and returns the remote exit
// code. On a local timeout it returns ErrTimeout after attempting to
// clean up the request's queue entries.
func (s *Submitter) Submit(ctx context.Context, command []byte, timeout time.Duration) (Result, error) {
	if err := ValidateCommand(command); err != nil {
		return Result{}, err
	}

	key, err := keystore.LoadGuestKey(queue.AuthKeyPath(s.Root))
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: no key installed, run 'key gen' then have it authorised", ErrNoKey)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrNoKey, err)
	}

	requestID := cid.New()
	tag := hmacauth.Tag([]byte(key), requestID)

	// Write .auth before the body: the daemon only acts on a cid whose
	// .auth sibling already exists (spec.md §4.1 write ordering).
	if err := os.WriteFile(queue.PendingAuthPath(s.Root, requestID), []byte(tag), 0600); err != nil {
		return Result{}, fmt.Errorf("%w: writing auth token: %v", ErrSubmitFailed, err)
	}
	if err := os.WriteFile(queue.PendingCmdPath(s.Root, requestID), command, 0600); err != nil {
		return Result{}, fmt.Errorf("%w: writing command body: %v", ErrSubmitFailed, err)
	}

	if s.AuthLog != nil {
		_ = s.AuthLog.Submit(requestID, len(command))
	}

	result, err := s.pollForResult(ctx, requestID, timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.cleanupAfterTimeout(requestID)
		}
		return Result{}, err
	}

	s.archive(requestID, command, result)
	if s.AuthLog != nil {
		_ = s.AuthLog.Result(requestID, result.ExitCode, result.DurationMS)
	}
	return result, nil
}

// pollForResult sleeps in pollInterval ticks until the result bundle's
// .exit file appears or timeout elapses (spec.md §4.1 "Poll-for-result
// loop"). .exit is written last by the executor, so its presence is the
// signal the bundle is complete.
func (s *Submitter) pollForResult(ctx context.Context, requestID string, timeout time.Duration) (Result, error) {
	rp := queue.Results(s.Root, requestID)
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(rp.Exit); err == nil {
			return s.readResult(requestID)
		}

		if time.Now().After(deadline) {
			return Result{}, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %v", ErrIOError, ctx.Err())
		case <-ticker.C:
		}
	}
}

// readResult reads and unlinks the four result files once .exit has
// appeared.
func (s *Submitter) readResult(requestID string) (Result, error) {
	rp := queue.Results(s.Root, requestID)

	exitBytes, err := os.ReadFile(rp.Exit)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading exit code: %v", ErrIOError, err)
	}
	stdout, err := os.ReadFile(rp.Out)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading stdout: %v", ErrIOError, err)
	}
	stderr, err := os.ReadFile(rp.Err)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading stderr: %v", ErrIOError, err)
	}
	meta, err := os.ReadFile(rp.Meta)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading metadata: %v", ErrIOError, err)
	}

	// .exit, not .meta's exit_code copy, is the authoritative exit code:
	// the testable property is that the printed exit code equals .exit's
	// content bytewise.
	exitCode, convErr := strconv.Atoi(strings.TrimSpace(string(exitBytes)))
	if convErr != nil {
		return Result{}, fmt.Errorf("%w: malformed exit code %q", ErrIOError, exitBytes)
	}

	result := parseMeta(meta)
	result.ExitCode = exitCode
	result.Stdout = stdout
	result.Stderr = stderr

	if s.Stdout != nil {
		_, _ = s.Stdout.Write(stdout)
	}
	if s.Stderr != nil {
		_, _ = s.Stderr.Write(stderr)
	}

	for _, p := range []string{rp.Out, rp.Err, rp.Exit, rp.Meta} {
		_ = os.Remove(p)
	}

	return result, nil
}

// parseMeta parses a .meta file's key=value lines into a Result,
// tolerating any fields it doesn't recognise (spec.md's forward
// compatibility policy for configuration applies equally here).
func parseMeta(data []byte) Result {
	var result Result
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "duration_ms":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				result.DurationMS = v
			}
		case "timeout":
			result.TimedOut = value == "1"
		case "truncated_out":
			result.TruncOut = value == "1"
		case "truncated_err":
			result.TruncErr = value == "1"
		}
	}
	return result
}

// cleanupAfterTimeout removes a timed-out request's queue entries: the
// pending pair if the daemon hasn't yet claimed it, or the result bundle
// if it finished after the local deadline passed.
func (s *Submitter) cleanupAfterTimeout(requestID string) {
	_ = os.Remove(queue.PendingCmdPath(s.Root, requestID))
	_ = os.Remove(queue.PendingAuthPath(s.Root, requestID))
	rp := queue.Results(s.Root, requestID)
	_ = os.Remove(rp.Out)
	_ = os.Remove(rp.Err)
	_ = os.Remove(rp.Exit)
	_ = os.Remove(rp.Meta)
}

// archive copies a completed transaction's command body and result
// bundle into today's history directory for operator review (spec.md §3
// "Command history").
func (s *Submitter) archive(requestID string, command []byte, result Result) {
	day := queue.HistoryDayDir(s.Root, time.Now())
	if err := os.MkdirAll(day, 0700); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(day, requestID+".cmd"), command, 0600)
	_ = os.WriteFile(filepath.Join(day, requestID+".out"), result.Stdout, 0600)
	_ = os.WriteFile(filepath.Join(day, requestID+".err"), result.Stderr, 0600)
	_ = os.WriteFile(filepath.Join(day, requestID+".exit"), []byte(fmt.Sprint(result.ExitCode)), 0600)
}

// Ping submits a trivial remote command and reports whether it round
// tripped successfully.
func (s *Submitter) Ping(ctx context.Context, timeout time.Duration) error {
	result, err := s.Submit(ctx, []byte("true"), timeout)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: ping command exited %d", ErrSubmitFailed, result.ExitCode)
	}
	return nil
}
