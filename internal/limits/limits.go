// Package limits applies the resource caps original_source/main.c wires
// through resources.h/timeout.h (set_core_size, set_cb_resources,
// set_timeout) — headers the retrieved source excerpt doesn't include,
// so their exact constants are inferred from spec.md §4.6's named
// invariant ("every CB is fully wired — stdio + mesh + rlimits +
// sandbox — before it executes user code").
//
// Go cannot run arbitrary code between fork and exec the way the C
// original's child does between fork() and start_program()'s
// set_timeout/set_cb_resources calls, so both are reinterpreted as
// operations the monitor performs on the CB from the outside, at the
// exact point the two-phase rendezvous replacement (internal/ptrace's
// post-exec SIGTRAP stop) guarantees the CB hasn't executed a user
// instruction yet: Prlimit(pid, ...) sets the new process's limits in
// place, and the wall-clock timeout becomes a monitor-owned timer that
// delivers SIGALRM to that pid directly instead of the CB calling
// alarm() on itself.
package limits

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Resources are the rlimits applied to one CB before it is allowed to
// continue past its post-exec trap.
type Resources struct {
	// CoreSize, in bytes, applied only when HasCore is set (spec.md's -c
	// is optional); 0 disables core dumps entirely, as the original does
	// on every fatal-signal exit path via set_core_size(0).
	CoreSize int64
	HasCore  bool

	// AddressSpaceBytes bounds RLIMIT_AS. Zero means unbounded.
	AddressSpaceBytes uint64

	// CPUSeconds bounds RLIMIT_CPU. Zero means unbounded.
	CPUSeconds uint64

	// FileSizeBytes bounds RLIMIT_FSIZE. Zero means unbounded.
	FileSizeBytes uint64
}

// Apply installs Resources on pid. Called by the monitor against a CB
// that is stopped at its post-exec ptrace trap — wrapper-mode CBs (which
// are never traced) get their limits applied immediately after Start()
// returns instead, which is a best-effort window rather than a hard
// guarantee, matching spec.md §4.1's note that wrapper mode forgoes
// ptrace supervision generally.
func Apply(pid int, r Resources) error {
	if r.HasCore {
		if err := setRlimit(pid, unix.RLIMIT_CORE, uint64(r.CoreSize)); err != nil {
			return fmt.Errorf("set RLIMIT_CORE: %w", err)
		}
	}

	if r.AddressSpaceBytes > 0 {
		if err := setRlimit(pid, unix.RLIMIT_AS, r.AddressSpaceBytes); err != nil {
			return fmt.Errorf("set RLIMIT_AS: %w", err)
		}
	}

	if r.CPUSeconds > 0 {
		if err := setRlimit(pid, unix.RLIMIT_CPU, r.CPUSeconds); err != nil {
			return fmt.Errorf("set RLIMIT_CPU: %w", err)
		}
	}

	if r.FileSizeBytes > 0 {
		if err := setRlimit(pid, unix.RLIMIT_FSIZE, r.FileSizeBytes); err != nil {
			return fmt.Errorf("set RLIMIT_FSIZE: %w", err)
		}
	}

	return nil
}

func setRlimit(pid int, resource int, value uint64) error {
	lim := unix.Rlimit{Cur: value, Max: value}
	return unix.Prlimit(pid, resource, &lim, nil)
}

// DisableCoreDumps is set_core_size(0) applied to the calling process
// itself — used by the monitor right before it raises a fatal signal on
// itself to terminate with the CB's verdict (spec.md §4.4's
// "exit_val < 0" path), and by the acceptor at startup, before it
// begins accepting connections.
func DisableCoreDumps() error {
	lim := unix.Rlimit{Cur: 0, Max: 0}
	return unix.Setrlimit(unix.RLIMIT_CORE, &lim)
}

// Timeout is a monitor-owned wall-clock timer standing in for the
// original's per-CB alarm(timeout). Stop must be called once the CB is
// reaped so a late timer doesn't deliver a stray SIGALRM to a reused pid.
type Timeout struct {
	timer *time.Timer
}

// StartTimeout arms a timeout that sends SIGALRM to pid after d, the Go
// translation of start_program's set_timeout(timeout) call — originally
// an alarm() the CB sets on itself right before its own execve, now a
// timer the monitor holds on the CB's behalf. A zero duration means "no
// timeout" (spec.md §6's "-t 0 = none") and returns a no-op Timeout.
func StartTimeout(pid int, d time.Duration) *Timeout {
	if d <= 0 {
		return &Timeout{}
	}

	t := time.AfterFunc(d, func() {
		_ = unix.Kill(pid, unix.SIGALRM)
	})

	return &Timeout{timer: t}
}

// Stop disarms the timeout if it hasn't already fired.
func (t *Timeout) Stop() {
	if t == nil || t.timer == nil {
		return
	}
	t.timer.Stop()
}
