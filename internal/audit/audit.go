// Package audit implements the append-only, line-oriented protocol log
// shared by the submitter and the executor daemon (spec §4.5): one
// human-readable record per event, grep-friendly, with a fixed taxonomy
// of event kinds and required fields.
package audit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Kind identifies the fixed taxonomy of audit events.
type Kind string

const (
	KindSubmit   Kind = "SUBMIT"
	KindRecv     Kind = "RECV"
	KindAuthOK   Kind = "AUTH-OK"
	KindAuthFail Kind = "AUTH-FAIL"
	KindAuthDeny Kind = "AUTH-DENY"
	KindExec     Kind = "EXEC"
	KindDone     Kind = "DONE"
	KindTimeout  Kind = "TIMEOUT"
	KindError    Kind = "ERROR"
	KindResult   Kind = "RESULT"
)

// cmdPreviewLimit bounds how much of a command's text is embedded in an
// EXEC record.
const cmdPreviewLimit = 120

// Logger appends single-line records to a log file. Writes are
// mutex-guarded; this is the innermost lock in the non-nesting order
// keystore > cache > log (spec §5).
type Logger struct {
	mu   sync.Mutex
	path string
}

// Open opens (creating if necessary) the log at path for appending.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	f.Close()
	return &Logger{path: path}, nil
}

func (l *Logger) append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func record(kind Kind, fields ...string) string {
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(string(kind))
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}

func field(key, value string) string { return key + "=" + value }

// Submit records a guest-side SUBMIT event.
func (l *Logger) Submit(cid string, bytesIn int) error {
	return l.append(record(KindSubmit, field("cid", cid), field("bytes_in", fmt.Sprint(bytesIn))))
}

// Recv records a control-side RECV event.
func (l *Logger) Recv(cid, domain string, bytesIn int) error {
	return l.append(record(KindRecv, field("cid", cid), field("domain", domain), field("bytes_in", fmt.Sprint(bytesIn))))
}

// AuthOK records a successful HMAC verification.
func (l *Logger) AuthOK(cid, domain string) error {
	return l.append(record(KindAuthOK, field("cid", cid), field("domain", domain)))
}

// AuthFail records a failed HMAC verification (key on file, tag mismatch).
func (l *Logger) AuthFail(cid, domain string) error {
	return l.append(record(KindAuthFail, field("cid", cid), field("domain", domain)))
}

// AuthDeny records a rejection because no key is on file for domain.
func (l *Logger) AuthDeny(cid, domain string) error {
	return l.append(record(KindAuthDeny, field("cid", cid), field("domain", domain)))
}

// Exec records the start of execution, with a sanitised, length-bounded
// preview of the command text.
func (l *Logger) Exec(cid, domain, command string) error {
	return l.append(record(KindExec, field("cid", cid), field("domain", domain), field("cmd_preview", previewCommand(command))))
}

// Done records successful completion.
func (l *Logger) Done(cid, domain string, exitCode int, durationMS int64, truncOut, truncErr bool) error {
	return l.append(record(KindDone,
		field("cid", cid), field("domain", domain),
		field("exit_code", fmt.Sprint(exitCode)),
		field("duration_ms", fmt.Sprint(durationMS)),
		field("truncated_out", fmt.Sprint(truncOut)),
		field("truncated_err", fmt.Sprint(truncErr))))
}

// Timeout records a wall-clock timeout kill.
func (l *Logger) Timeout(cid, domain string, durationMS int64) error {
	return l.append(record(KindTimeout, field("cid", cid), field("domain", domain), field("duration_ms", fmt.Sprint(durationMS))))
}

// Error records a fault on either side. cid and domain may be empty when
// the failure precedes their resolution.
func (l *Logger) Error(cid, domain, reason string) error {
	fields := []string{}
	if cid != "" {
		fields = append(fields, field("cid", cid))
	}
	if domain != "" {
		fields = append(fields, field("domain", domain))
	}
	fields = append(fields, field("reason", sanitize(reason)))
	return l.append(record(KindError, fields...))
}

// Result records the guest-side observation of a completed request.
func (l *Logger) Result(cid string, exitCode int, durationMS int64) error {
	return l.append(record(KindResult, field("cid", cid), field("exit_code", fmt.Sprint(exitCode)), field("duration_ms", fmt.Sprint(durationMS))))
}

// previewCommand returns a sanitised, single-line, length-bounded preview
// of a command for embedding in an EXEC record.
func previewCommand(command string) string {
	return sanitize(truncate(command, cmdPreviewLimit))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// sanitize replaces whitespace control characters and quotes so a single
// audit record never spans multiple lines or breaks grep-ability.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\n', '\r':
			b.WriteByte(' ')
		case '"':
			b.WriteByte('\'')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Tail returns the last n lines of the log at path, oldest first.
func Tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return lines, nil
}
