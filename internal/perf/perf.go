// Package perf accumulates the two software performance counters
// original_source/tools/service-launcher/signals.c attaches to every CB
// (sw-cpu-clock, sw-task-clock), grounded on that file's cntr_desc table,
// make_counter, setup_counters, read_counters, and zero_perf_stats.
package perf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	bitDisabled      = 1 << 0
	bitExcludeKernel = 1 << 5
	bitExcludeHV     = 1 << 6
	bitExcludeIdle   = 1 << 7
	bitEnableOnExec  = 1 << 12
)

// counterDesc mirrors cntr_desc[]: one entry per software event the
// original attaches to each CB, in the same order it reports them.
type counterDesc struct {
	config uint64
	name   string
}

var counterDescs = []counterDesc{
	{config: unix.PERF_COUNT_SW_CPU_CLOCK, name: "sw-cpu-clock"},
	{config: unix.PERF_COUNT_SW_TASK_CLOCK, name: "sw-task-clock"},
}

// Counters holds the open perf_event fds for one CB's pair of software
// counters, the per-process analogue of setup_counters' slice of the
// global cntrs array.
type Counters struct {
	pid int
	fds []int
}

// Open attaches both software counters to pid, grouped under the first
// counter's fd the way make_counter's gfd parameter does, and relying
// on enable_on_exec so the counters start running exactly when the CB's
// own execve completes rather than needing an explicit enable call —
// the original relies on the same flag.
func Open(pid int) (*Counters, error) {
	c := &Counters{pid: pid, fds: make([]int, 0, len(counterDescs))}

	groupFd := -1
	for _, desc := range counterDescs {
		attr := &unix.PerfEventAttr{
			Type:   unix.PERF_TYPE_SOFTWARE,
			Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
			Config: desc.config,
			Bits:   bitDisabled | bitExcludeIdle | bitExcludeKernel | bitExcludeHV | bitEnableOnExec,
		}

		fd, err := unix.PerfEventOpen(attr, pid, -1, groupFd, 0)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("perf_event_open %s for pid %d: %w", desc.name, pid, err)
		}

		if groupFd == -1 {
			groupFd = fd
		}
		c.fds = append(c.fds, fd)
	}

	return c, nil
}

// Read accumulates each counter's current value into totals, the Go
// translation of read_counters' per-pid accumulation loop. Totals is
// keyed by counter name so callers can fold multiple CBs' readings
// together the way sts_cpu_clock/sts_task_clock do process-globally in
// the original.
func (c *Counters) Read(totals *Totals) error {
	for i, fd := range c.fds {
		var buf [8]byte
		n, err := unix.Read(fd, buf[:])
		if err != nil {
			return fmt.Errorf("read perf counter %s for pid %d: %w", counterDescs[i].name, c.pid, err)
		}
		if n != 8 {
			continue
		}

		value := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
			uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56

		switch counterDescs[i].name {
		case "sw-cpu-clock":
			totals.CPUClock += value
		case "sw-task-clock":
			totals.TaskClock += value
		}
	}

	return nil
}

// Close releases every fd this CB's counters opened. Called once the CB
// has been reaped, after its final Read.
func (c *Counters) Close() {
	for _, fd := range c.fds {
		_ = unix.Close(fd)
	}
	c.fds = nil
}

// Totals is the process-wide accumulation zero_perf_stats resets to
// zero and show_perf_stats prints at the end of a run.
type Totals struct {
	CPUClock  uint64
	TaskClock uint64
}
