package supervisor

import (
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bcaswell/cb-server/internal/accounting"
	"github.com/bcaswell/cb-server/internal/report"
)

func newTestInstance(t *testing.T) (*instance, *accounting.Group) {
	t.Helper()
	group := accounting.NewGroup(1)
	in := &instance{
		index: 0, program: "/bin/true", pgid: os.Getpid(),
		group: group, out: report.New(io.Discard),
		log: newTestLogger(t).WithFields(nil),
	}
	return in, group
}

func TestReapAccountsNormalExit(t *testing.T) {
	cmd := exec.Command("/bin/true")
	require.NoError(t, cmd.Start())

	in, group := newTestInstance(t)
	in.reap(cmd, nil)

	require.True(t, group.Done())
	require.Equal(t, 0, group.ExitVal())
}

func TestReapAccountsNonZeroExit(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	in, group := newTestInstance(t)
	in.reap(cmd, nil)

	require.True(t, group.Done())
	require.Equal(t, 7, group.ExitVal())
}

func TestReapAccountsFatalSignalAsNegatedExitVal(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "5")
	require.NoError(t, cmd.Start())

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = cmd.Process.Kill() // SIGKILL
	}()

	in, group := newTestInstance(t)
	in.reap(cmd, nil)

	require.True(t, group.Done())
	require.Equal(t, -9, group.ExitVal())
}

func TestReapFailedAccountsWithoutBlocking(t *testing.T) {
	in, group := newTestInstance(t)
	in.reapFailed()

	require.True(t, group.Done())
	require.Equal(t, 255, group.ExitVal())
}
