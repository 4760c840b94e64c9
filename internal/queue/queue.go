// Package queue defines the guest-side filesystem layout shared by the
// submitter and the executor daemon (spec §3 data model, §6 filesystem
// layout), and the small set of local filesystem operations the
// submitter performs directly against it.
package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	dirName        = ".qvm-remote"
	legacyDirName  = ".qubes-remote"
	authKeyName    = "auth.key"
	auditLogName   = "audit.log"
	pendingDirName = "queue/pending"
	runningDirName = "queue/running"
	resultsDirName = "queue/results"
	historyDirName = "history"
)

// Root returns the root of the guest-side queue tree for the given home
// directory.
func Root(home string) string { return filepath.Join(home, dirName) }

// LegacyRoot returns the pre-rename root, used only by the migration path.
func LegacyRoot(home string) string { return filepath.Join(home, legacyDirName) }

// AuthKeyPath returns the path to the guest's mirrored per-domain secret.
func AuthKeyPath(root string) string { return filepath.Join(root, authKeyName) }

// AuditLogPath returns the path to the guest-side audit log.
func AuditLogPath(root string) string { return filepath.Join(root, auditLogName) }

// PendingDir returns the pending-request directory.
func PendingDir(root string) string { return filepath.Join(root, pendingDirName) }

// RunningDir returns the running-marker directory.
func RunningDir(root string) string { return filepath.Join(root, runningDirName) }

// ResultsDir returns the results directory.
func ResultsDir(root string) string { return filepath.Join(root, resultsDirName) }

// HistoryDir returns the root of the per-day archive tree.
func HistoryDir(root string) string { return filepath.Join(root, historyDirName) }

// HistoryDayDir returns the archive directory for a specific day.
func HistoryDayDir(root string, day time.Time) string {
	return filepath.Join(HistoryDir(root), day.Format("2006-01-02"))
}

// PendingCmdPath returns the path of a pending request's command body.
func PendingCmdPath(root, cid string) string { return filepath.Join(PendingDir(root), cid) }

// PendingAuthPath returns the path of a pending request's auth token file.
func PendingAuthPath(root, cid string) string {
	return filepath.Join(PendingDir(root), cid+".auth")
}

// RunningMarkerPath returns the path of a request's running tombstone.
func RunningMarkerPath(root, cid string) string { return filepath.Join(RunningDir(root), cid) }

// ResultPaths holds the four result bundle file paths for one request.
type ResultPaths struct {
	Out  string
	Err  string
	Exit string
	Meta string
}

// Results returns the result bundle paths for cid.
func Results(root, cid string) ResultPaths {
	base := filepath.Join(ResultsDir(root), cid)
	return ResultPaths{
		Out:  base + ".out",
		Err:  base + ".err",
		Exit: base + ".exit",
		Meta: base + ".meta",
	}
}

// EnsureLayout creates the guest-side directory tree with the modes spec.md
// §3/§6 require: 0700 on every directory, including the root.
func EnsureLayout(root string) error {
	dirs := []string{root, PendingDir(root), RunningDir(root), ResultsDir(root), HistoryDir(root)}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
		// MkdirAll does not change the mode of a pre-existing directory.
		if err := os.Chmod(d, 0700); err != nil {
			return fmt.Errorf("chmod %s: %w", d, err)
		}
	}
	return nil
}

// MigrateLegacy renames a pre-existing legacy directory into place when the
// current layout does not yet exist. It never merges two directories: if
// both the legacy and current roots are present, it fails loudly (spec §4.1
// "Migration path").
func MigrateLegacy(home string) error {
	root := Root(home)
	legacy := LegacyRoot(home)

	_, rootErr := os.Stat(root)
	_, legacyErr := os.Stat(legacy)

	rootExists := rootErr == nil
	legacyExists := legacyErr == nil

	switch {
	case rootExists && legacyExists:
		return fmt.Errorf("both %s and %s exist; refusing to merge, remove one manually", root, legacy)
	case legacyExists && !rootExists:
		return os.Rename(legacy, root)
	default:
		return nil
	}
}
