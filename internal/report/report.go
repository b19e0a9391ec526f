// Package report writes the protocol-mandated stdout text (spec.md §6)
// verbatim, byte for byte, to whatever io.Writer the caller gives it —
// normally the monitor's (or acceptor's) own stdout, not the client
// connection. It is never routed
// through internal/logger: replay tooling parses this text positionally,
// so its format is frozen independently of how operational diagnostics
// are logged.
package report

import (
	"bufio"
	"fmt"
	"io"
)

// Writer emits the fixed-format lines show_perf_stats/sigchld/
// print_filesizes print in original_source/tools/service-launcher, one
// call per line, flushing after every write the way the C original
// calls fflush(stdout) at each point replay tooling might be reading.
type Writer struct {
	w *bufio.Writer
}

// New wraps out (normally the calling process's os.Stdout).
func New(out io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(out)}
}

func (w *Writer) printf(format string, args ...any) {
	fmt.Fprintf(w.w, format, args...)
	w.w.Flush()
}

// Filesize reports one challenge binary's on-disk size before exec.
func (w *Writer) Filesize(path string, size int64) {
	w.printf("stat: %s filesize %d\n", path, size)
}

// ConnectionFrom reports the accepted peer address (spec.md §6).
func (w *Writer) ConnectionFrom(addr string) {
	w.printf("connection from: %s\n", addr)
}

// NegotiationFlag mirrors the original's unconditional
// "negotation flag: %d" line printed at the top of negotiate().
func (w *Writer) NegotiationFlag(enabled bool) {
	n := 0
	if enabled {
		n = 1
	}
	w.printf("negotation flag: %d\n", n)
}

// CBExited reports a CB's normal termination.
func (w *Writer) CBExited(pid int, exitCode int) {
	w.printf("CB exited (pid: %d, exit code: %d)\n", pid, exitCode)
}

// CBTimedOut reports a CB reaped on SIGALRM.
func (w *Writer) CBTimedOut(pid int) {
	w.printf("CB timed out (pid: %d)\n", pid)
}

// CBSignaled reports a CB that died or stopped on any other signal.
func (w *Writer) CBSignaled(pid int, signum int) {
	w.printf("CB generated signal (pid: %d, signal: %d)\n", pid, signum)
}

// Registers reports an amd64 register snapshot taken on a crash signal;
// dump is the text internal/supervisor's reaper formats from
// internal/ptrace.DumpRegisters' result (SPEC_FULL.md §4.14).
func (w *Writer) Registers(dump string) {
	w.printf("register states - %s\n", dump)
}

// Totals is the aggregate stats block printed once, at the end of an
// instance's lifetime, from show_perf_stats in the original.
type Totals struct {
	Children     uint64
	MaxRSS       int64
	MinFlt       int64
	UTimeSeconds int64
	UTimeMicros  int64
	CPUClock     uint64
	TaskClock    uint64
}

// Stats prints the final aggregate block. Field order and wording match
// show_perf_stats exactly.
func (w *Writer) Stats(t Totals) {
	w.printf("total children: %d\n", t.Children)
	w.printf("total maxrss %d\n", t.MaxRSS)
	w.printf("total minflt %d\n", t.MinFlt)
	w.printf("total utime %d.%06d\n", t.UTimeSeconds, t.UTimeMicros)
	w.printf("total sw-cpu-clock %d\n", t.CPUClock)
	w.printf("total sw-task-clock %d\n", t.TaskClock)
}
