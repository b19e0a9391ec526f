// Package accounting tracks a single service instance's aggregate
// bookkeeping: how many CBs are still outstanding, the first-writer-wins
// exit verdict, and the summed rusage/perf-counter totals that feed the
// final stdout report. It replaces the original's SIGCHLD-serialised
// globals (num_children, exit_val, sts_*) with one mutex-guarded struct
// per monitor process, fed by each CB's reaper goroutine calling Record
// directly (see DESIGN.md's "reaper goroutine" decision for why this,
// and not os/signal + SIGCHLD, is correct here).
package accounting

import (
	"sync"
	"syscall"
)

// Outcome classifies how one CB's wait4 status was interpreted, mirroring
// sigchld's switch in original_source/tools/service-launcher/signals.c.
type Outcome int

const (
	OutcomeExited Outcome = iota
	OutcomeTimedOut
	OutcomeSignaled
)

// ChildExit is one CB's reaped status, produced by a per-CB reaper
// goroutine and consumed by a Group.
type ChildExit struct {
	PID       int
	Outcome   Outcome
	ExitCode  int
	Signal    syscall.Signal
	Rusage    syscall.Rusage
	CPUClock  uint64
	TaskClock uint64
}

// Group is one service instance's shared accounting state: spec.md §3's
// num_children and exit_val, plus the perf/rusage totals show_perf_stats
// prints at the end of an instance.
type Group struct {
	mu sync.Mutex

	numChildren int
	exitVal     int

	nkids     uint64
	maxRSS    int64
	minFlt    int64
	utimeSec  int64
	utimeUsec int64
	cpuClock  uint64
	taskClock uint64
}

// NewGroup starts a Group tracking n outstanding CBs, the way handle()
// sets num_children = program_count before forking any CB.
func NewGroup(n int) *Group {
	return &Group{numChildren: n}
}

// NumChildren returns the number of CBs forked but not yet reaped.
func (g *Group) NumChildren() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.numChildren
}

// ExitVal returns the instance's current exit verdict.
func (g *Group) ExitVal() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exitVal
}

// Record folds one reaped CB's status into the group, applying spec.md
// §4.4's exit_val rules:
//   - normal exit, exit_val == 0: exit_val = the exit code
//   - terminating signal s != SIGUSR1, exit_val >= 0: exit_val = -s
//   - the first non-zero exit code and the first fatal signal win; a
//     fatal signal replaces an earlier non-zero exit code, and zero
//     exits never overwrite a prior non-zero value.
func (g *Group) Record(e ChildExit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch e.Outcome {
	case OutcomeExited:
		if g.exitVal == 0 {
			g.exitVal = e.ExitCode
		}
	case OutcomeTimedOut, OutcomeSignaled:
		if e.Signal != syscall.SIGUSR1 && g.exitVal >= 0 {
			g.exitVal = -int(e.Signal)
		}
	}

	g.nkids++
	g.maxRSS += e.Rusage.Maxrss
	g.minFlt += e.Rusage.Minflt
	g.utimeSec += int64(e.Rusage.Utime.Sec)
	g.utimeUsec += int64(e.Rusage.Utime.Usec)
	for g.utimeUsec >= 1000000 {
		g.utimeSec++
		g.utimeUsec -= 1000000
	}
	g.cpuClock += e.CPUClock
	g.taskClock += e.TaskClock

	if g.numChildren > 0 {
		g.numChildren--
	}
}

// Totals is the final snapshot fed to internal/report.Writer.Stats.
type Totals struct {
	Children     uint64
	MaxRSS       int64
	MinFlt       int64
	UTimeSeconds int64
	UTimeMicros  int64
	CPUClock     uint64
	TaskClock    uint64
}

// Snapshot returns the current aggregate totals.
func (g *Group) Snapshot() Totals {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Totals{
		Children:     g.nkids,
		MaxRSS:       g.maxRSS,
		MinFlt:       g.minFlt,
		UTimeSeconds: g.utimeSec,
		UTimeMicros:  g.utimeUsec,
		CPUClock:     g.cpuClock,
		TaskClock:    g.taskClock,
	}
}

// Done reports whether every CB in this instance has been reaped.
func (g *Group) Done() bool {
	return g.NumChildren() == 0
}

// ShouldBroadcastFatal reports whether the instance already has a fatal
// (negative) exit verdict, mirroring wait_for_signal()'s
// "kill(-getpid(), SIGUSR1)" call made before every suspend once
// exit_val < 0 — waking any CB still blocked on its own I/O so it gets
// reaped instead of outliving the instance.
func (g *Group) ShouldBroadcastFatal() bool {
	return g.ExitVal() < 0
}
