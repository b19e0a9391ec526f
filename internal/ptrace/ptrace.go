// Package ptrace drives the monitor's half of the post-exec rendezvous
// with each CB and dumps register state on a fatal-signal stop.
// Grounded on original_source/tools/service-launcher/signals.c's
// setup_ptrace, continue_ptrace, and print_registers.
//
// The original rendezvous is two separate calls because its child is
// stopped twice: once by its own raise(SIGSTOP) right after fork (so the
// parent can PT_ATTACH before the child does anything else), and again
// by the kernel's implicit SIGTRAP on the child's own execve. A CB
// started with os/exec's SysProcAttr.Ptrace field needs no attach step —
// Ptrace: true makes the child PTRACE_TRACEME itself before exec, so the
// stops the monitor observes at startup are post-exec SIGTRAPs (one per
// execve the traced child makes; internal/supervisor's launchCB sees
// two), and Continue below is the equivalent of continue_ptrace; nothing
// here plays the role of setup_ptrace's PT_ATTACH/SIGSTOP handshake
// because Go never needs it.
package ptrace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AwaitExecTrap waits for the SIGTRAP stop a ptraced child takes after
// each of its execve calls, before the new image has executed a single
// user instruction. internal/supervisor's launchCB calls it twice per CB
// and runs internal/limits.Apply at the first of those stops.
func AwaitExecTrap(pid int) error {
	var status unix.WaitStatus

	wpid, err := unix.Wait4(pid, &status, 0, nil)
	if err != nil {
		return fmt.Errorf("wait4 for exec trap: %w", err)
	}
	if wpid != pid {
		return fmt.Errorf("wait4 returned pid %d, expected %d", wpid, pid)
	}

	if !status.Stopped() || status.StopSignal() != unix.SIGTRAP {
		return fmt.Errorf("unexpected wait status at exec trap: %v", status)
	}

	return nil
}

// Continue resumes a CB parked at its post-exec trap, the direct
// analogue of continue_ptrace's PT_CONTINUE call. It is also used after
// a PIPE stop is observed mid-run, matching sigchld's "continuing on
// SIGPIPE" branch.
func Continue(pid int, signal int) error {
	if err := unix.PtraceCont(pid, signal); err != nil {
		return fmt.Errorf("ptrace cont pid %d: %w", pid, err)
	}
	return nil
}

// Detach releases a CB from ptrace supervision, the analogue of
// sigchld's unconditional PT_DETACH call on every reaped child
// (harmless on an already-exited pid; wait4 has already reaped it by
// the time Detach would be reached in the reaper, so callers only use
// this on a CB that is still alive, e.g. after a registers dump).
func Detach(pid int) error {
	if err := unix.PtraceDetach(pid); err != nil {
		return fmt.Errorf("ptrace detach pid %d: %w", pid, err)
	}
	return nil
}

// Registers is the subset of user_regs_struct print_registers formats,
// named the way the amd64 ABI names them rather than the x86 struct's
// field names.
type Registers struct {
	Rax uint64
	Rcx uint64
	Rdx uint64
	Rbx uint64
	Rsp uint64
	Rbp uint64
	Rsi uint64
	Rdi uint64
	Rip uint64
}

// DumpRegisters fetches pid's general-purpose registers via
// PTRACE_GETREGS, the Go translation of print_registers — called on the
// SIGSEGV/SIGILL/SIGBUS branch of the reaper, same as the original's
// sigchld falling through into print_registers before its default
// signal-count bookkeeping.
func DumpRegisters(pid int) (Registers, error) {
	var regs unix.PtraceRegs

	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return Registers{}, fmt.Errorf("ptrace getregs pid %d: %w", pid, err)
	}

	return Registers{
		Rax: regs.Rax,
		Rcx: regs.Rcx,
		Rdx: regs.Rdx,
		Rbx: regs.Rbx,
		Rsp: regs.Rsp,
		Rbp: regs.Rbp,
		Rsi: regs.Rsi,
		Rdi: regs.Rdi,
		Rip: regs.Rip,
	}, nil
}
