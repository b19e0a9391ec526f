// Package sandbox installs a classic-BPF seccomp syscall filter on the CB
// before it is exec'd. original_source/main.c calls setup_sandbox() but
// the excerpted sources never supply its policy (spec.md §9 Open
// Question); this package resolves that by building a real allow-list
// filter, shaped the way
// Talismancer-gvisor-ligolo/pkg/sentry/platform/ptrace builds its stub's
// seccomp program (a default-deny action plus an explicit allow-list of
// the syscalls the sandboxed process legitimately needs), using
// golang.org/x/sys/unix's raw BPF types directly since gVisor's seccomp
// package itself is not an importable module outside its own module path.
package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	bpfLdAbsW = unix.BPF_LD | unix.BPF_W | unix.BPF_ABS
	bpfJeqK   = unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K
	bpfRetK   = unix.BPF_RET | unix.BPF_K

	seccompRetAllow uint32 = 0x7fff0000
	seccompRetKill  uint32 = 0x00000000

	// offsetof(struct seccomp_data, nr) on linux/amd64 — the syscall
	// number is the struct's first 4-byte field.
	seccompDataNROffset uint32 = 0
)

// DefaultAllowedSyscalls is the baseline every CB needs regardless of
// what it does once running: read/write/exit on the fds already wired by
// internal/netio, plus the handful of syscalls a typical CGC challenge
// binary's libc shim issues for memory and basic I/O.
var DefaultAllowedSyscalls = []uintptr{
	unix.SYS_READ,
	unix.SYS_WRITE,
	unix.SYS_OPEN,
	unix.SYS_CLOSE,
	unix.SYS_FSTAT,
	unix.SYS_LSEEK,
	unix.SYS_MMAP,
	unix.SYS_MPROTECT,
	unix.SYS_MUNMAP,
	unix.SYS_BRK,
	unix.SYS_RT_SIGACTION,
	unix.SYS_RT_SIGPROCMASK,
	unix.SYS_RT_SIGRETURN,
	unix.SYS_NANOSLEEP,
	unix.SYS_GETPID,
	unix.SYS_EXIT,
	unix.SYS_EXIT_GROUP,
}

// Program builds the classic-BPF instruction list for an allow-list of
// syscalls with a default-kill action: load the syscall number, compare
// it against each allowed value in turn (jumping straight to the ALLOW
// return on a match), and fall through to the KILL return if nothing
// matched.
func Program(allowed []uintptr) []unix.SockFilter {
	instrs := make([]unix.SockFilter, 0, len(allowed)+3)

	instrs = append(instrs, unix.SockFilter{Code: bpfLdAbsW, K: seccompDataNROffset})

	for i, nr := range allowed {
		// Remaining comparison instructions after this one, plus the
		// KILL return, is exactly how far a match needs to jump to land
		// on the ALLOW return at the end of the program.
		remaining := uint8(len(allowed) - i)
		instrs = append(instrs, unix.SockFilter{
			Code: bpfJeqK,
			K:    uint32(nr),
			Jt:   remaining,
			Jf:   0,
		})
	}

	instrs = append(instrs, unix.SockFilter{Code: bpfRetK, K: seccompRetKill})
	instrs = append(instrs, unix.SockFilter{Code: bpfRetK, K: seccompRetAllow})

	return instrs
}

// Install applies the filter to the calling thread/process: disables
// new-privilege acquisition (required before SECCOMP_MODE_FILTER can be
// set by a non-root caller) and installs the BPF program. Called by the
// "cb-server execcb" helper (internal/supervisor's RunExecCB) just before
// it execs the CB, never from the monitor's own process.
func Install(allowed []uintptr) error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}

	instrs := Program(allowed)
	prog := unix.SockFprog{
		Len:    uint16(len(instrs)),
		Filter: &instrs[0],
	}

	if err := unix.Prctl(unix.PR_SET_SECCOMP, uintptr(unix.SECCOMP_MODE_FILTER), uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_SECCOMP): %w", err)
	}

	return nil
}
