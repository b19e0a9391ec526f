package accounting

import (
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordNormalExitsKeepZeroExitVal(t *testing.T) {
	g := NewGroup(3)
	for i := 0; i < 3; i++ {
		g.Record(ChildExit{PID: 100 + i, Outcome: OutcomeExited, ExitCode: 0})
	}
	require.Equal(t, 0, g.ExitVal())
	require.Equal(t, 0, g.NumChildren())
	require.True(t, g.Done())
	require.Equal(t, uint64(3), g.Snapshot().Children)
}

func TestRecordFirstNonZeroExitWins(t *testing.T) {
	g := NewGroup(3)
	g.Record(ChildExit{PID: 1, Outcome: OutcomeExited, ExitCode: 0})
	g.Record(ChildExit{PID: 2, Outcome: OutcomeExited, ExitCode: 7})
	g.Record(ChildExit{PID: 3, Outcome: OutcomeExited, ExitCode: 9})
	require.Equal(t, 7, g.ExitVal())
}

func TestRecordSignalSetsNegatedExitVal(t *testing.T) {
	g := NewGroup(2)
	g.Record(ChildExit{PID: 1, Outcome: OutcomeExited, ExitCode: 0})
	g.Record(ChildExit{PID: 2, Outcome: OutcomeSignaled, Signal: syscall.SIGSEGV})
	require.Equal(t, -int(syscall.SIGSEGV), g.ExitVal())
	require.True(t, g.ShouldBroadcastFatal())
}

func TestRecordSIGUSR1NeverOverwrites(t *testing.T) {
	g := NewGroup(2)
	g.Record(ChildExit{PID: 1, Outcome: OutcomeSignaled, Signal: syscall.SIGSEGV})
	g.Record(ChildExit{PID: 2, Outcome: OutcomeSignaled, Signal: syscall.SIGUSR1})
	require.Equal(t, -int(syscall.SIGSEGV), g.ExitVal())
}

func TestRecordSignalOverwritesEarlierNonZeroExit(t *testing.T) {
	g := NewGroup(2)
	g.Record(ChildExit{PID: 1, Outcome: OutcomeExited, ExitCode: 3})
	g.Record(ChildExit{PID: 2, Outcome: OutcomeSignaled, Signal: syscall.SIGSEGV})
	require.Equal(t, -int(syscall.SIGSEGV), g.ExitVal())
}

func TestRecordIsConcurrencySafe(t *testing.T) {
	const n = 50
	g := NewGroup(n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(pid int) {
			defer wg.Done()
			g.Record(ChildExit{PID: pid, Outcome: OutcomeExited, ExitCode: 0})
		}(i)
	}
	wg.Wait()

	require.True(t, g.Done())
	require.Equal(t, uint64(n), g.Snapshot().Children)
}

func TestUtimeMicrosCarry(t *testing.T) {
	g := NewGroup(2)
	ru1 := syscall.Rusage{}
	ru1.Utime.Sec = 0
	ru1.Utime.Usec = 700000
	ru2 := syscall.Rusage{}
	ru2.Utime.Sec = 0
	ru2.Utime.Usec = 600000

	g.Record(ChildExit{PID: 1, Outcome: OutcomeExited, Rusage: ru1})
	g.Record(ChildExit{PID: 2, Outcome: OutcomeExited, Rusage: ru2})

	snap := g.Snapshot()
	require.Equal(t, int64(1), snap.UTimeSeconds)
	require.Equal(t, int64(300000), snap.UTimeMicros)
}
