package config

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies the executor daemon's coordinator when the config file's
// mtime has advanced, per spec.md §4.2 step 1. It prefers an fsnotify watch
// for low-latency reload but always falls back to polling the file's mtime,
// since fsnotify watches can be lost on filesystems or editors that
// rename-over-write rather than truncate-and-write in place.
type Watcher struct {
	path     string
	logger   *slog.Logger
	lastMod  time.Time
	notifyCh chan struct{}
}

// NewWatcher creates a Watcher for path. It does not start watching until
// Run is called.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		notifyCh: make(chan struct{}, 1),
	}
}

// Changed returns a channel that receives a value whenever the config file
// may have changed. The channel is buffered; consumers should re-check the
// mtime themselves rather than trusting every signal is a genuine change.
func (w *Watcher) Changed() <-chan struct{} { return w.notifyCh }

// Run watches the config file until ctx is cancelled. It never returns an
// error: fsnotify failures are logged and the watcher degrades to
// poll-only operation for its remaining lifetime.
func (w *Watcher) Run(ctx context.Context, pollInterval time.Duration) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to mtime polling", slog.String("error", err.Error()))
		w.pollOnly(ctx, pollInterval)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		w.logger.Warn("fsnotify watch failed, falling back to mtime polling",
			slog.String("path", w.path), slog.String("error", err.Error()))
		w.pollOnly(ctx, pollInterval)
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.signal()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		case <-ticker.C:
			w.checkMtime()
		}
	}
}

func (w *Watcher) pollOnly(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkMtime()
		}
	}
}

func (w *Watcher) checkMtime() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		w.signal()
	}
}

func (w *Watcher) signal() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}
