package submitter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/qvm-remote/internal/audit"
	"github.com/infodancer/qvm-remote/internal/keystore"
	"github.com/infodancer/qvm-remote/internal/queue"
)

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		command []byte
		wantErr bool
	}{
		{"valid simple", []byte("echo hello"), false},
		{"empty", []byte(""), true},
		{"only whitespace", []byte("   \n\t  "), true},
		{"contains NUL", []byte("echo\x00hi"), true},
		{"contains control byte", []byte("echo\x01hi"), true},
		{"tab newline CR allowed", []byte("echo\thi\r\n"), false},
		{"exactly 1 MiB", bytes.Repeat([]byte("a"), MaxCommandBytes), false},
		{"1 MiB plus one byte", bytes.Repeat([]byte("a"), MaxCommandBytes+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error = %v, want wrapping ErrInvalidInput", err)
			}
		})
	}
}

func newTestSubmitter(t *testing.T) (*Submitter, string, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	home := t.TempDir()
	root := queue.Root(home)
	if err := queue.EnsureLayout(root); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}

	auditPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := audit.Open(auditPath)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	var stdout, stderr bytes.Buffer
	return New(home, logger, &stdout, &stderr), root, &stdout, &stderr
}

func installTestKey(t *testing.T, root string) string {
	t.Helper()
	key := strings.Repeat("ab", 32)
	if err := keystore.InstallGuestKey(queue.AuthKeyPath(root), key, false); err != nil {
		t.Fatalf("InstallGuestKey: %v", err)
	}
	return key
}

// waitForPendingRequestID polls root's pending directory until a
// request's .auth token appears and returns its cid, standing in for the
// executor daemon's list_pending step.
func waitForPendingRequestID(t *testing.T, root string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(queue.PendingDir(root))
		if err == nil {
			for _, e := range entries {
				if strings.HasSuffix(e.Name(), ".auth") {
					return strings.TrimSuffix(e.Name(), ".auth")
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for pending request")
	return ""
}

func TestSubmitHappyPath(t *testing.T) {
	sub, root, stdout, _ := newTestSubmitter(t)
	installTestKey(t, root)

	done := make(chan struct{})
	go func() {
		defer close(done)
		requestID := waitForPendingRequestID(t, root)
		rp := queue.Results(root, requestID)
		_ = os.WriteFile(rp.Out, []byte("hello\n"), 0600)
		_ = os.WriteFile(rp.Err, nil, 0600)
		_ = os.WriteFile(rp.Meta, []byte("id="+requestID+"\nexit_code=0\nduration_ms=12\ntruncated_out=0\ntruncated_err=0\ntimeout=0\n"), 0600)
		_ = os.WriteFile(rp.Exit, []byte("0\n"), 0600)
	}()

	result, err := sub.Submit(context.Background(), []byte("echo hello"), time.Second)
	<-done
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if stdout.String() != "hello\n" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "hello\n")
	}
	if result.DurationMS != 12 {
		t.Errorf("DurationMS = %d, want 12", result.DurationMS)
	}
}

func TestSubmitNoKeyReturnsErrNoKey(t *testing.T) {
	sub, _, _, _ := newTestSubmitter(t)
	// No InstallGuestKey call: guest has no key mirrored yet.

	_, err := sub.Submit(context.Background(), []byte("echo hi"), time.Second)
	if !errors.Is(err, ErrNoKey) {
		t.Errorf("err = %v, want wrapping ErrNoKey", err)
	}
}

func TestSubmitInvalidInputNeverWritesQueueEntries(t *testing.T) {
	sub, root, _, _ := newTestSubmitter(t)
	installTestKey(t, root)

	_, err := sub.Submit(context.Background(), []byte(""), time.Second)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want wrapping ErrInvalidInput", err)
	}

	entries, readErr := os.ReadDir(queue.PendingDir(root))
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("pending dir has %d entries after rejected submission, want 0", len(entries))
	}
}

func TestSubmitTimeoutCleansUpPending(t *testing.T) {
	sub, root, _, _ := newTestSubmitter(t)
	installTestKey(t, root)

	// No goroutine ever satisfies the request: it must time out locally.
	_, err := sub.Submit(context.Background(), []byte("sleep forever"), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want wrapping ErrTimeout", err)
	}

	entries, readErr := os.ReadDir(queue.PendingDir(root))
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("pending dir has %d entries after timeout cleanup, want 0", len(entries))
	}
}

func TestSubmitArchivesTransaction(t *testing.T) {
	sub, root, _, _ := newTestSubmitter(t)
	installTestKey(t, root)

	done := make(chan struct{})
	go func() {
		defer close(done)
		requestID := waitForPendingRequestID(t, root)
		rp := queue.Results(root, requestID)
		_ = os.WriteFile(rp.Out, []byte("archived\n"), 0600)
		_ = os.WriteFile(rp.Err, nil, 0600)
		_ = os.WriteFile(rp.Meta, []byte("id="+requestID+"\nexit_code=0\nduration_ms=1\n"), 0600)
		_ = os.WriteFile(rp.Exit, []byte("0\n"), 0600)
	}()

	_, err := sub.Submit(context.Background(), []byte("echo archived"), time.Second)
	<-done
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	day := queue.HistoryDayDir(root, time.Now())
	entries, err := os.ReadDir(day)
	if err != nil {
		t.Fatalf("ReadDir history day: %v", err)
	}
	if len(entries) == 0 {
		t.Error("history day directory is empty after a completed submission")
	}
}
