package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/infodancer/qvm-remote/internal/prefs"
	"github.com/infodancer/qvm-remote/internal/queue"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently archived commands, newest day first",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := guestQueueRoot()
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}

			pruneHistoryWithPrefs(root)

			days, err := os.ReadDir(queue.HistoryDir(root))
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				fail(5, "qvm-remote: %v", err)
			}
			sort.Slice(days, func(i, j int) bool { return days[i].Name() > days[j].Name() })

			for _, day := range days {
				if !day.IsDir() {
					continue
				}
				dayPath := filepath.Join(queue.HistoryDir(root), day.Name())
				entries, err := os.ReadDir(dayPath)
				if err != nil {
					continue
				}
				seen := make(map[string]bool)
				for _, e := range entries {
					requestID := trimHistorySuffix(e.Name())
					if seen[requestID] {
						continue
					}
					seen[requestID] = true
					fmt.Printf("%s %s\n", day.Name(), requestID)
				}
			}
			return nil
		},
	}
	cmd.AddCommand(historyGCCmd())
	return cmd
}

func historyGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Prune archived history older than the configured retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := guestQueueRoot()
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}
			pruneHistoryWithPrefs(root)
			return nil
		},
	}
}

func trimHistorySuffix(name string) string {
	for _, suffix := range []string{".cmd", ".out", ".err", ".exit"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// pruneHistoryWithPrefs loads the submitter's preferred retention window
// (QVM_REMOTE_HISTORY_DAYS's guest-side counterpart, prefs.toml's
// history_days) and prunes root's history tree accordingly. A missing or
// unreadable prefs file just leaves history unpruned this run.
func pruneHistoryWithPrefs(root string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	p, err := prefs.Load(filepath.Join(home, ".qvm-remote", "prefs.toml"))
	if err != nil {
		return
	}
	pruneHistory(queue.HistoryDir(root), p.HistoryDays)
}

// pruneHistory removes archived day directories older than keepDays
// (0 = unlimited retention, never prune). The source this protocol
// descends from never pruned its history tree at all; this caps it at the
// submitter's own preference instead of letting it grow without bound.
func pruneHistory(historyDir string, keepDays int) {
	if keepDays <= 0 {
		return
	}
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse("2006-01-02", e.Name())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(historyDir, e.Name()))
		}
	}
}
