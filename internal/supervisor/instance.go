package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/bcaswell/cb-server/internal/accounting"
	"github.com/bcaswell/cb-server/internal/limits"
	"github.com/bcaswell/cb-server/internal/logger"
	"github.com/bcaswell/cb-server/internal/netio"
	"github.com/bcaswell/cb-server/internal/perf"
	"github.com/bcaswell/cb-server/internal/ptrace"
	"github.com/bcaswell/cb-server/internal/report"
)

// instance is one CB's full lifecycle within a monitor process: launch,
// rendezvous, rlimits/sandbox, and the reaper goroutine that ultimately
// feeds a ChildExit into the shared accounting.Group. The Forked →
// Attached → CountersArmed → Executing → Reaped progression spec.md §9
// names maps onto launchCB's sequence below (Start, the two exec traps
// with rlimits and perf counters set up between them) and reap.
type instance struct {
	index   int
	program string
	pgid    int
	desc    *netio.Descriptors
	params  MonitorParams
	group   *accounting.Group
	out     *report.Writer
	timer   *limits.Timeout
	log     *logger.Context
}

// resources builds the rlimit set applied to this CB. It carries only
// the -c core-size limit; the address-space, CPU-time and file-size
// limits are left unset (unbounded), and -M reaches the wrapper as an
// argv entry, not as an rlimit.
func (in *instance) resources() limits.Resources {
	return limits.Resources{
		HasCore:  in.params.HasCoreSize,
		CoreSize: int64(in.params.CoreSize),
	}
}

// launchCB forks (via a "cb-server execcb" re-exec) and supervises one
// CB to completion, running on its own locked OS thread for the
// lifetime of the ptrace relationship — see internal/ptrace's package
// doc and DESIGN.md's ptrace entry for why the tracer must stay pinned.
//
// The two-exec choreography below is this module's replacement for
// start_program() being able to run set_cb_resources/setup_sandbox
// directly in the forked child before its own execve: Go's os/exec
// cannot inject code between fork and exec, so a "cb-server execcb"
// helper re-exec is used as that injection point instead, and because
// PTRACE_TRACEME stays armed across every execve a traced process makes
// (not only the first), the monitor sees exactly two SIGTRAP stops per
// CB rather than one.
func launchCB(in *instance) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	execParams := ExecCBParams{
		Program:     in.program,
		Wrapper:     in.params.Wrapper,
		Seed:        in.params.Seed,
		SkipRNG:     in.params.SkipRNG,
		MaxTransmit: in.params.MaxTransmit,
		MaxReceive:  in.params.MaxReceive,
		HasCoreSize: in.params.HasCoreSize,
		CoreSize:    int64(in.params.CoreSize),
		Insecure:    in.params.Insecure,
	}

	encoded, err := execParams.Encode()
	if err != nil {
		in.log.With(logrus.Fields{"error": err}).Error("encode execcb params")
		in.reapFailed()
		return
	}

	self, err := os.Executable()
	if err != nil {
		in.log.With(logrus.Fields{"error": err}).Error("resolve self path")
		in.reapFailed()
		return
	}

	traced := in.params.Wrapper == "" && !in.params.Debug

	cmd := exec.Command(self, "execcb")
	cmd.Env = append(os.Environ(), execCBParamsEnv+"="+encoded)
	cmd.Stdin = in.desc.Stdin
	cmd.Stdout = in.desc.Stdout
	cmd.Stderr = in.desc.Stderr
	cmd.ExtraFiles = in.desc.ExtraFiles()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    in.pgid,
		Ptrace:  traced,
	}

	if err := cmd.Start(); err != nil {
		in.log.With(logrus.Fields{"program": in.program, "error": err}).Error("start CB")
		in.reapFailed()
		return
	}

	pid := cmd.Process.Pid
	in.timer = limits.StartTimeout(pid, secondsToDuration(in.params.Timeout))

	var counters *perf.Counters
	if traced {
		if err := ptrace.AwaitExecTrap(pid); err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Error("await execcb startup trap")
		} else if err := limits.Apply(pid, in.resources()); err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Error("apply rlimits")
		}

		counters, err = perf.Open(pid)
		if err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Warn("perf_event_open unavailable")
		}

		if err := ptrace.Continue(pid, 0); err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Error("continue past execcb startup trap")
		}

		if err := ptrace.AwaitExecTrap(pid); err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Error("await CB exec trap")
		}

		if err := ptrace.Continue(pid, 0); err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Error("continue past CB exec trap")
		}
	} else {
		// Wrapper mode and --debug forgo ptrace supervision entirely
		// (spec.md §4.1); rlimits are still applied, best-effort, right
		// after Start returns instead of at a guaranteed pre-exec point.
		if err := limits.Apply(pid, in.resources()); err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Warn("apply rlimits (untraced)")
		}
	}

	in.reap(cmd, counters)
}

// reap blocks on this CB's own wait4 loop (not cmd.Wait, which would
// race the reaper against Go's internal SIGCHLD bookkeeping across
// every CB in the instance) until it observes a terminal status,
// classifying it exactly as sigchld's switch does.
func (in *instance) reap(cmd *exec.Cmd, counters *perf.Counters) {
	pid := cmd.Process.Pid

	for {
		var status unix.WaitStatus
		var rusage unix.Rusage

		wpid, err := unix.Wait4(pid, &status, 0, &rusage)
		if err != nil {
			in.log.With(logrus.Fields{"pid": pid, "error": err}).Error("wait4")
			in.reapFailed()
			return
		}
		if wpid != pid {
			continue
		}

		switch {
		case status.Exited():
			in.finish(accounting.ChildExit{
				PID: pid, Outcome: accounting.OutcomeExited,
				ExitCode: status.ExitStatus(), Rusage: syscall.Rusage(rusage),
			}, counters)
			return

		case status.Signaled():
			in.finish(accounting.ChildExit{
				PID: pid, Outcome: accounting.OutcomeSignaled,
				Signal: status.Signal(), Rusage: syscall.Rusage(rusage),
			}, counters)
			return

		case status.Stopped():
			sig := status.StopSignal()

			if sig == unix.SIGPIPE {
				_ = ptrace.Continue(pid, int(sig))
				continue
			}

			switch sig {
			case unix.SIGSEGV, unix.SIGILL, unix.SIGBUS:
				if regs, err := ptrace.DumpRegisters(pid); err == nil {
					dump := fmt.Sprintf("rax: %016x rcx: %016x rdx: %016x rbx: %016x "+
						"rsp: %016x rbp: %016x rsi: %016x rdi: %016x rip: %016x",
						regs.Rax, regs.Rcx, regs.Rdx, regs.Rbx,
						regs.Rsp, regs.Rbp, regs.Rsi, regs.Rdi, regs.Rip)
					in.out.Registers(dump)
					in.log.With(logrus.Fields{"pid": pid, "signal": sig}).Info("fatal signal register dump")
				}
			}

			outcome := accounting.OutcomeSignaled
			if sig == unix.SIGALRM {
				outcome = accounting.OutcomeTimedOut
			}

			_ = ptrace.Detach(pid)

			deliver := sig
			if deliver == 0 {
				deliver = unix.SIGUSR1
			}
			_ = unix.Kill(pid, deliver)

			// Accounted now, exactly as sigchld does: the process is no
			// longer traced and has been re-signaled to finish dying on
			// its own; any terminal status it produces afterward is
			// reaped, if anyone still waits on it, by init once this
			// monitor process itself exits.
			in.finish(accounting.ChildExit{
				PID: pid, Outcome: outcome, Signal: syscall.Signal(sig), Rusage: syscall.Rusage(rusage),
			}, counters)
			return
		}
	}
}

func (in *instance) finish(e accounting.ChildExit, counters *perf.Counters) {
	if in.timer != nil {
		in.timer.Stop()
	}

	switch e.Outcome {
	case accounting.OutcomeExited:
		in.out.CBExited(e.PID, e.ExitCode)
	case accounting.OutcomeTimedOut:
		in.out.CBTimedOut(e.PID)
	case accounting.OutcomeSignaled:
		in.out.CBSignaled(e.PID, int(e.Signal))
	}

	if counters != nil {
		var totals perf.Totals
		if err := counters.Read(&totals); err == nil {
			e.CPUClock = totals.CPUClock
			e.TaskClock = totals.TaskClock
		}
		counters.Close()
	}

	in.group.Record(e)

	if in.group.ShouldBroadcastFatal() {
		_ = unix.Kill(-in.pgid, unix.SIGUSR1)
	}
}

// reapFailed accounts a CB that never successfully started as an
// ordinary failed exit so the instance's num_children bookkeeping still
// reaches zero.
func (in *instance) reapFailed() {
	in.group.Record(accounting.ChildExit{Outcome: accounting.OutcomeExited, ExitCode: 255})
}
