package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterFormatsLinesVerbatim(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Filesize("./cb1", 4096)
	w.ConnectionFrom("127.0.0.1:55123")
	w.NegotiationFlag(true)
	w.CBExited(4242, 0)
	w.CBTimedOut(4243)
	w.CBSignaled(4244, 11)
	w.Registers("rax: 0000000000000000 rcx: 0000000000000000")
	w.Stats(Totals{
		Children:     3,
		MaxRSS:       1024,
		MinFlt:       7,
		UTimeSeconds: 1,
		UTimeMicros:  500000,
		CPUClock:     123,
		TaskClock:    456,
	})

	expected := "" +
		"stat: ./cb1 filesize 4096\n" +
		"connection from: 127.0.0.1:55123\n" +
		"negotation flag: 1\n" +
		"CB exited (pid: 4242, exit code: 0)\n" +
		"CB timed out (pid: 4243)\n" +
		"CB generated signal (pid: 4244, signal: 11)\n" +
		"register states - rax: 0000000000000000 rcx: 0000000000000000\n" +
		"total children: 3\n" +
		"total maxrss 1024\n" +
		"total minflt 7\n" +
		"total utime 1.500000\n" +
		"total sw-cpu-clock 123\n" +
		"total sw-task-clock 456\n"

	require.Equal(t, expected, buf.String())
}
