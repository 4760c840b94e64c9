// Package guestexec defines the one cross-domain operation the executor
// daemon's core logic depends on (spec.md §6 "Guest-exec primitive
// contract") and a Qubes-backed implementation of it.
package guestexec

import (
	"context"
	"fmt"
)

// Primitive is the host-side guest execution contract: run a shell command
// in a domain as its normal user, streaming output, and critically never
// starting a halted domain as a side effect.
type Primitive interface {
	// IsRunning reports whether domain is currently running, without
	// starting it. Used by the coordinator's running-state cache.
	IsRunning(ctx context.Context, domain string) (bool, error)

	// Run executes shellCommand inside domain, feeding it stdin (may be
	// nil), and returns its captured stdout, stderr, and exit code. It
	// must not start a halted domain.
	Run(ctx context.Context, domain, shellCommand string, stdin []byte) (stdout, stderr []byte, exitCode int, err error)
}

// ErrDomainNotRunning is an error a Primitive's Run may return when the
// target domain is not currently running. QubesPrimitive and FakePrimitive
// do not return it: QubesPrimitive reports qvm-run's non-zero exit code, and
// FakePrimitive runs every command locally.
var ErrDomainNotRunning = fmt.Errorf("guestexec: domain not running")
