package supervisor

import (
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/bcaswell/cb-server/internal/accounting"
	"github.com/bcaswell/cb-server/internal/limits"
	"github.com/bcaswell/cb-server/internal/logger"
	"github.com/bcaswell/cb-server/internal/netio"
	"github.com/bcaswell/cb-server/internal/privilege"
	"github.com/bcaswell/cb-server/internal/report"
)

// secondsToDuration translates the -t flag's integer seconds into a
// time.Duration, treating 0 as limits.StartTimeout's "no timeout" case.
func secondsToDuration(seconds uint) time.Duration {
	return time.Duration(seconds) * time.Second
}

// RunMonitor is the forkmonitor subcommand's entry point: the Go
// analogue of handle() in original_source/main.c, re-exec'd once per
// accepted connection with MonitorParams carried through the environment
// and the connection's duplicated socket inherited as fd 3 (see
// acceptor.go's spawnMonitor for the other half of this handoff). The
// logger is built here, from the acceptor's LogLevel/LogFile carried in
// MonitorParams, rather than passed in: this process starts with none
// of the acceptor's in-memory state, only what crossed the re-exec.
func RunMonitor() int {
	encoded := os.Getenv(monitorParamsEnv)
	if encoded == "" {
		fmt.Fprintln(os.Stderr, "forkmonitor: missing", monitorParamsEnv)
		return 255
	}

	params, err := DecodeMonitorParams(encoded)
	if err != nil {
		fmt.Fprintln(os.Stderr, "forkmonitor: decode params:", err)
		return 255
	}

	var logOut io.Writer
	if params.LogFile != "" {
		f, err := os.OpenFile(params.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "forkmonitor: open log file:", err)
			return 255
		}
		defer f.Close()
		logOut = f
	}

	log, err := logger.New(logOut, params.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "forkmonitor: build logger:", err)
		return 255
	}

	ctx := log.WithFields(logrus.Fields{
		"component": "monitor", "remote": params.RemoteAddr, "pid": os.Getpid(),
	})

	connFile := os.NewFile(3, "conn")
	if connFile == nil {
		ctx.Error("inherited connection fd missing")
		return 255
	}

	// The protocol report (spec.md §6) is written to this process's own
	// stdout, not to the connection: original_source/main.c's handle()
	// only dup2's the connection onto fd 0/1 for the duration of the CB
	// fork loop (so the CBs themselves inherit it), then
	// reset_base_sockets restores the original stdin/stdout before any
	// further reporting happens — print_filesizes runs even earlier,
	// before setup_connection touches fd 0/1 at all. cmd.Stdout in
	// acceptor.go's spawnMonitor wires this process's stdout back to the
	// acceptor's own, standing in for that inherited original stream.
	out := report.New(os.Stdout)

	// print_filesizes runs before drop_privileges, while the supervisor
	// can still resolve each program's path (and, in chroot mode, before
	// the paths are remapped into the jail).
	for _, program := range params.Programs {
		fi, err := os.Stat(program)
		if err != nil {
			ctx.With(logrus.Fields{"program": program, "error": err}).Warn("stat program")
			continue
		}
		out.Filesize(program, fi.Size())
	}

	// Chroot must happen while still root: drop_privileges in
	// original_source/privileges.c chroots first, then drops uid/gid,
	// because chroot(2) requires CAP_SYS_CHROOT, which is gone the
	// instant the process becomes an unprivileged uid.
	if params.ChrootDir != "" {
		if err := privilege.Chroot(params.ChrootDir, params.Insecure); err != nil {
			ctx.With(logrus.Fields{"error": err}).Error("chroot")
			return 255
		}
	}

	if err := privilege.Drop(params.UID, params.GID, params.Insecure); err != nil {
		ctx.With(logrus.Fields{"error": err}).Error("drop privileges")
		return 255
	}

	conn, err := net.FileConn(connFile)
	if err != nil {
		ctx.With(logrus.Fields{"error": err}).Error("recover connection from fd")
		return 255
	}
	defer conn.Close()

	desc, err := netio.BuildDescriptors(conn, len(params.Programs), params.Debug)
	if err != nil {
		ctx.With(logrus.Fields{"error": err}).Error("build descriptors")
		return 255
	}
	defer desc.Close()

	out.ConnectionFrom(params.RemoteAddr)

	group := accounting.NewGroup(len(params.Programs))
	pgid := os.Getpid()

	done := make(chan struct{}, len(params.Programs))
	for i, program := range params.Programs {
		in := &instance{
			index: i, program: program, pgid: pgid,
			desc: desc, params: params, group: group, out: out,
			log: ctx.With(logrus.Fields{"cb": i, "program": program}),
		}
		go func() {
			launchCB(in)
			done <- struct{}{}
		}()
	}

	for i := 0; i < len(params.Programs); i++ {
		<-done
	}

	reportOutcomes(out, group)

	exitVal := group.ExitVal()
	if exitVal < 0 {
		_ = limits.DisableCoreDumps()
		selfTerminate(-exitVal)
	}
	return exitVal
}

// selfTerminate is handle()'s "raise(-exit_val); pause();" tail: a
// negative exit_val names the signal a CB died from, so the monitor
// re-raises that same signal on itself rather than inventing its own
// exit code, letting the signal's default disposition decide how the
// monitor process ends. The os.Exit call below only runs if that
// signal's default action didn't terminate the process (e.g. it's
// blocked or ignored), matching the original falling through to
// exit(exit_val) in that case.
func selfTerminate(signum int) {
	_ = unix.Kill(os.Getpid(), syscall.Signal(signum))
	os.Exit(128 + signum)
}

// reportOutcomes prints the final per-instance stats block. Per-CB exit
// lines are emitted by the reaper as each CB finishes (see instance.go's
// finish and its report.Writer use); this prints only the
// aggregate totals show_perf_stats prints at the very end.
func reportOutcomes(out *report.Writer, group *accounting.Group) {
	t := group.Snapshot()
	out.Stats(report.Totals{
		Children:     t.Children,
		MaxRSS:       t.MaxRSS,
		MinFlt:       t.MinFlt,
		UTimeSeconds: t.UTimeSeconds,
		UTimeMicros:  t.UTimeMicros,
		CPUClock:     t.CPUClock,
		TaskClock:    t.TaskClock,
	})
}
