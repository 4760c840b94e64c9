// Package executor implements the control-domain-resident coordinator:
// for each authorised, running guest domain, it lists the domain's
// pending queue via the guest-exec primitive, authenticates and executes
// each request in a sandbox, and writes results back (spec.md §4.2).
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/infodancer/qvm-remote/internal/audit"
	"github.com/infodancer/qvm-remote/internal/cid"
	"github.com/infodancer/qvm-remote/internal/config"
	"github.com/infodancer/qvm-remote/internal/guestexec"
	"github.com/infodancer/qvm-remote/internal/hmacauth"
	"github.com/infodancer/qvm-remote/internal/keystore"
	"github.com/infodancer/qvm-remote/internal/metrics"
	"github.com/infodancer/qvm-remote/internal/queue"
	"github.com/infodancer/qvm-remote/internal/sandbox"
)

// Per-invocation timeouts the guest-exec primitive is bounded by (spec.md
// §5 "Suspension points").
const (
	listTimeout  = 10 * time.Second
	fetchTimeout = 30 * time.Second
	writeTimeout = 60 * time.Second
)

// runningCacheTTL bounds how long a domain's running state is trusted
// before the coordinator re-queries it (spec.md §4.2 step 2).
const runningCacheTTL = 15 * time.Second

// maxWorkers bounds concurrent per-request execution across every domain
// (spec.md §5 "a bounded pool of worker tasks (cap ≈ 8)").
const maxWorkers = 8

// workerRetryInterval is how often a domain worker re-polls the limiter
// while waiting for a free slot.
const workerRetryInterval = 25 * time.Millisecond

// guestHome is the literal shell expansion composed into every guest-side
// path. The daemon never learns a domain's real home directory; it only
// knows the guest-exec primitive runs commands as the domain's normal
// user, so $HOME is left for that user's own shell to expand.
const guestHome = "$HOME"

// Coordinator runs the executor daemon's main loop.
type Coordinator struct {
	keystoreDir string
	prim        guestexec.Primitive
	auditLog    *audit.Logger
	metrics     metrics.Collector
	logger      *slog.Logger
	limiter     *workerLimiter
	tmpDir      string

	cfgMu sync.RWMutex
	cfg   config.Config

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	running bool
	at      time.Time
}

// New creates a Coordinator. keystoreDir is the control-side per-domain
// key store directory; tmpDir is the base directory sandbox.Run creates
// per-request work directories under.
func New(cfg config.Config, keystoreDir string, prim guestexec.Primitive, auditLog *audit.Logger, mc metrics.Collector, logger *slog.Logger, tmpDir string) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		keystoreDir: keystoreDir,
		prim:        prim,
		auditLog:    auditLog,
		metrics:     mc,
		logger:      logger,
		limiter:     newWorkerLimiter(maxWorkers),
		tmpDir:      tmpDir,
		cache:       make(map[string]cacheEntry),
	}
}

// SetConfig installs a newly reloaded configuration. Safe for concurrent
// use with Serve/RunOnce.
func (c *Coordinator) SetConfig(cfg config.Config) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg = cfg
}

// Config returns the coordinator's current configuration.
func (c *Coordinator) Config() config.Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// Serve runs the coordinator's main loop until ctx is cancelled: on every
// poll tick it runs one pass over all configured domains. reload, fed by a
// config.Watcher, only reshapes the ticker; SetConfig must be called
// separately once a reload has been validated and loaded. Serve returns
// once the in-flight pass (if any) has finished, honouring the spec's
// "let workers finish their current execution" termination policy.
func (c *Coordinator) Serve(ctx context.Context, reload <-chan struct{}, dryRun bool) error {
	interval := c.Config().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reload:
			if newInterval := c.Config().PollInterval; newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}
		case <-ticker.C:
			c.RunOnce(ctx, dryRun)
		}
	}
}

// RunOnce runs a single pass over every configured domain. Domains are
// processed concurrently and independently: one domain's failure or
// misconfiguration never affects another's filesystem (spec.md's
// cross-domain isolation invariant).
func (c *Coordinator) RunOnce(ctx context.Context, dryRun bool) {
	cfg := c.Config()
	var wg sync.WaitGroup
	for _, domain := range cfg.VMs {
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			c.processDomain(ctx, domain, cfg, dryRun)
		}(domain)
	}
	wg.Wait()
}

// processDomain runs one poll pass for a single domain: skip if not
// running, resolve its key (if any), list its pending queue, and dispatch
// a bounded worker per request (spec.md §4.2 "Per-domain worker").
func (c *Coordinator) processDomain(ctx context.Context, domain string, cfg config.Config, dryRun bool) {
	logger := c.logger.With(slog.String("domain", domain))
	c.metrics.PollStarted(domain)

	running, err := c.isRunning(ctx, domain)
	if err != nil {
		logger.Warn("running-state query failed", slog.String("error", err.Error()))
		c.metrics.PollFinished(domain, 0)
		return
	}
	if !running {
		c.metrics.PollFinished(domain, 0)
		return
	}

	key, kerr := keystore.Load(c.keystoreDir, domain)
	hasKey := kerr == nil
	if kerr != nil && kerr != keystore.ErrNotFound {
		logger.Warn("key store read failed", slog.String("error", kerr.Error()))
		c.metrics.PollFinished(domain, 0)
		return
	}

	requestIDs, err := c.listPending(ctx, domain)
	if err != nil {
		logger.Warn("list pending failed", slog.String("error", err.Error()))
		_ = c.auditLog.Error("", domain, fmt.Sprintf("list pending: %v", err))
		c.metrics.PollFinished(domain, 0)
		return
	}

	var wg sync.WaitGroup
	for _, requestID := range requestIDs {
		if acqErr := c.acquireWorker(ctx); acqErr != nil {
			break
		}
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			defer c.limiter.Release()
			c.processRequest(ctx, domain, requestID, key, hasKey, cfg, dryRun)
		}(requestID)
	}
	wg.Wait()

	c.metrics.PollFinished(domain, len(requestIDs))
}

// acquireWorker blocks until a worker slot is free or ctx is done.
func (c *Coordinator) acquireWorker(ctx context.Context) error {
	for {
		if c.limiter.TryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(workerRetryInterval):
		}
	}
}

// processRequest authenticates, executes (or dry-runs), and writes back
// the result for one request (spec.md §4.2 steps 2-5).
func (c *Coordinator) processRequest(ctx context.Context, domain, requestID, key string, hasKey bool, cfg config.Config, dryRun bool) {
	logger := c.logger.With(slog.String("domain", domain), slog.String("cid", requestID))

	tagHex, ready := c.fetchAuthToken(ctx, domain, requestID)
	if !ready {
		// Not yet ready (races with a still-in-progress submit) or a
		// stray file; leave it for the next pass rather than logging
		// noise every poll.
		return
	}

	if !hasKey {
		_ = c.auditLog.AuthDeny(requestID, domain)
		c.metrics.AuthResult(domain, "deny")
		if err := c.removePending(ctx, domain, requestID); err != nil {
			logger.Warn("unlink pending pair failed after AUTH-DENY", slog.String("error", err.Error()))
		}
		return
	}

	body, err := c.fetchBody(ctx, domain, requestID, cfg.MaxCmdBytes)
	if err != nil {
		logger.Warn("command body fetch failed", slog.String("error", err.Error()))
		_ = c.auditLog.Error(requestID, domain, fmt.Sprintf("fetch body: %v", err))
		return
	}
	_ = c.auditLog.Recv(requestID, domain, len(body))

	if !hmacauth.Verify([]byte(key), requestID, tagHex) {
		_ = c.auditLog.AuthFail(requestID, domain)
		c.metrics.AuthResult(domain, "fail")
		if err := c.removePending(ctx, domain, requestID); err != nil {
			logger.Warn("unlink pending pair failed after AUTH-FAIL", slog.String("error", err.Error()))
		}
		return
	}
	_ = c.auditLog.AuthOK(requestID, domain)
	c.metrics.AuthResult(domain, "ok")

	// Unlink before execution: this is what makes the request
	// at-most-once even if the daemon crashes mid-execution.
	if err := c.removePending(ctx, domain, requestID); err != nil {
		logger.Error("unlink pending pair failed; refusing to execute", slog.String("error", err.Error()))
		_ = c.auditLog.Error(requestID, domain, fmt.Sprintf("unlink pending: %v", err))
		return
	}

	if dryRun {
		c.writeDryRunResult(ctx, domain, requestID)
		return
	}

	_ = c.auditLog.Exec(requestID, domain, string(body))
	result, err := sandbox.Run(ctx, requestID, string(body), cfg.ExecTimeout, c.tmpDir, cfg.MaxOutBytes)
	if err != nil {
		logger.Error("sandbox run failed", slog.String("error", err.Error()))
		_ = c.auditLog.Error(requestID, domain, fmt.Sprintf("sandbox: %v", err))
		return
	}

	if err := c.writeResult(ctx, domain, requestID, result); err != nil {
		logger.Error("write result failed", slog.String("error", err.Error()))
		_ = c.auditLog.Error(requestID, domain, fmt.Sprintf("write result: %v", err))
		return
	}

	c.metrics.ExecFinished(domain, result.ExitCode, result.Duration.Seconds(), result.TimedOut)
	if result.TimedOut {
		_ = c.auditLog.Timeout(requestID, domain, result.Duration.Milliseconds())
		return
	}
	_ = c.auditLog.Done(requestID, domain, result.ExitCode, result.Duration.Milliseconds(), result.StdoutTrunc, result.StderrTrunc)
}

// writeDryRunResult writes a synthetic result without ever invoking the
// shell (spec.md acceptance scenario 5).
func (c *Coordinator) writeDryRunResult(ctx context.Context, domain, requestID string) {
	logger := c.logger.With(slog.String("domain", domain), slog.String("cid", requestID))
	result := sandbox.Result{
		Stdout:   []byte("[dry-run] request authenticated; shell not invoked\n"),
		ExitCode: 0,
	}
	if err := c.writeResult(ctx, domain, requestID, result); err != nil {
		logger.Error("dry-run result write failed", slog.String("error", err.Error()))
		_ = c.auditLog.Error(requestID, domain, fmt.Sprintf("dry-run write: %v", err))
		return
	}
	_ = c.auditLog.Done(requestID, domain, 0, 0, false, false)
}

// isRunning returns domain's cached running state, refreshing it via the
// guest-exec primitive once the cache entry is older than runningCacheTTL.
func (c *Coordinator) isRunning(ctx context.Context, domain string) (bool, error) {
	c.cacheMu.Lock()
	entry, ok := c.cache[domain]
	c.cacheMu.Unlock()
	if ok && time.Since(entry.at) < runningCacheTTL {
		return entry.running, nil
	}

	running, err := c.prim.IsRunning(ctx, domain)
	if err != nil {
		return false, err
	}

	c.cacheMu.Lock()
	c.cache[domain] = cacheEntry{running: running, at: time.Now()}
	c.cacheMu.Unlock()
	return running, nil
}

// listPending lists domain's pending directory and returns the distinct,
// well-formed cids present, sorted lexicographically (spec.md §4.2 step 1,
// §5 "lexicographic cid order is respected for dispatch").
func (c *Coordinator) listPending(ctx context.Context, domain string) ([]string, error) {
	command := fmt.Sprintf("ls -1 -- %s 2>/dev/null", quote(pendingDir()))
	out, _, _, err := c.runTimeout(ctx, listTimeout, domain, command, nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name := strings.TrimSuffix(strings.TrimSpace(scanner.Text()), ".auth")
		if name == "" || !cid.Valid(name) {
			continue
		}
		seen[name] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// fetchAuthToken fetches a request's .auth token. ok is false when the
// file is absent or unreadable, which per spec.md §4.2 step 2 means the
// request is not yet ready and must be left for the next pass.
func (c *Coordinator) fetchAuthToken(ctx context.Context, domain, requestID string) (tagHex string, ok bool) {
	command := fmt.Sprintf("cat -- %s 2>/dev/null", quote(pendingAuthPath(requestID)))
	out, _, exitCode, err := c.runTimeout(ctx, fetchTimeout, domain, command, nil)
	if err != nil || exitCode != 0 {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

// fetchBody fetches a request's command body, aborting if it is missing
// or exceeds maxBytes without ever reading the oversized body into
// memory (spec.md §4.2 step 2 "abort if missing or too large").
func (c *Coordinator) fetchBody(ctx context.Context, domain, requestID string, maxBytes int64) ([]byte, error) {
	path := pendingCmdPath(requestID)

	sizeCmd := fmt.Sprintf("wc -c < %s 2>/dev/null", quote(path))
	sizeOut, _, exitCode, err := c.runTimeout(ctx, fetchTimeout, domain, sizeCmd, nil)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("command body missing")
	}
	size, convErr := strconv.ParseInt(strings.TrimSpace(string(sizeOut)), 10, 64)
	if convErr != nil {
		return nil, fmt.Errorf("unreadable size report: %w", convErr)
	}
	if size > maxBytes {
		return nil, fmt.Errorf("command body %d bytes exceeds limit %d", size, maxBytes)
	}

	catCmd := fmt.Sprintf("cat -- %s", quote(path))
	body, _, exitCode, err := c.runTimeout(ctx, fetchTimeout, domain, catCmd, nil)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("command body missing")
	}
	return body, nil
}

// removePending unlinks both files of a pending pair in the guest.
func (c *Coordinator) removePending(ctx context.Context, domain, requestID string) error {
	command := fmt.Sprintf("rm -f -- %s %s", quote(pendingCmdPath(requestID)), quote(pendingAuthPath(requestID)))
	_, _, exitCode, err := c.runTimeout(ctx, fetchTimeout, domain, command, nil)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("rm exited %d", exitCode)
	}
	return nil
}

// writeResult writes the four-file result bundle to the guest's results
// directory, each with mode 0600 (spec.md §4.2 step 5).
func (c *Coordinator) writeResult(ctx context.Context, domain, requestID string, result sandbox.Result) error {
	rp := queue.Results(guestRoot(), requestID)
	meta := strings.Join(sandbox.MetaFields(requestID, result), "\n") + "\n"

	// .exit is written last: the submitter's poll loop treats its
	// presence as the signal that the result bundle is complete
	// (spec.md §9 open-questions note).
	writes := []struct {
		path string
		data []byte
	}{
		{rp.Out, result.Stdout},
		{rp.Err, result.Stderr},
		{rp.Meta, []byte(meta)},
		{rp.Exit, []byte(strconv.Itoa(result.ExitCode) + "\n")},
	}
	for _, w := range writes {
		if err := c.writeGuestFile(ctx, domain, w.path, w.data); err != nil {
			return fmt.Errorf("write %s: %w", w.path, err)
		}
	}
	return nil
}

// writeGuestFile writes data to path inside domain with mode 0600, via
// the shell's own umask rather than a separate chmod round trip.
func (c *Coordinator) writeGuestFile(ctx context.Context, domain, path string, data []byte) error {
	command := fmt.Sprintf("umask 077; cat > %s", quote(path))
	_, _, exitCode, err := c.runTimeout(ctx, writeTimeout, domain, command, data)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("write exited %d", exitCode)
	}
	return nil
}

// runTimeout bounds a single guest-exec primitive invocation with its own
// timeout, derived from ctx so daemon-wide cancellation still applies.
func (c *Coordinator) runTimeout(ctx context.Context, timeout time.Duration, domain, shellCommand string, stdin []byte) ([]byte, []byte, int, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.prim.Run(runCtx, domain, shellCommand, stdin)
}

func guestRoot() string                { return queue.Root(guestHome) }
func pendingDir() string               { return queue.PendingDir(guestRoot()) }
func pendingCmdPath(id string) string  { return queue.PendingCmdPath(guestRoot(), id) }
func pendingAuthPath(id string) string { return queue.PendingAuthPath(guestRoot(), id) }

// quote renders s as a double-quoted shell word. Guest paths only ever
// contain the literal $HOME prefix (left for the guest shell to expand)
// and slash-separated identifiers validated by cid.Valid or keystore's
// domain naming, so Go's %q escaping is always shell-safe here.
func quote(s string) string { return fmt.Sprintf("%q", s) }
