package perf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpenAndReadSelf exercises the real perf_event_open syscall against
// the current process, standing in for a CB pid since this package
// only ever needs a readable pid, not a ptraced one.
func TestOpenAndReadSelf(t *testing.T) {
	c, err := Open(os.Getpid())
	if err != nil {
		t.Skipf("perf_event_open unavailable in this environment: %v", err)
	}
	defer c.Close()

	var totals Totals
	require.NoError(t, c.Read(&totals))
}

func TestCloseIsIdempotentSafe(t *testing.T) {
	c := &Counters{pid: os.Getpid()}
	require.NotPanics(t, func() { c.Close() })
}
