package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherSignalsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.conf")
	if err := os.WriteFile(path, []byte("QVM_REMOTE_VMS=work\n"), 0600); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	w := NewWatcher(path, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, 20*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(path, []byte("QVM_REMOTE_VMS=work personal\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Changed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcherToleratesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.conf")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	w := NewWatcher(path, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	w.Run(ctx, 10*time.Millisecond)
}
