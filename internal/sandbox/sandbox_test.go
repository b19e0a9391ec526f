package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestProgramStructure(t *testing.T) {
	allowed := []uintptr{unix.SYS_READ, unix.SYS_WRITE, unix.SYS_EXIT}
	prog := Program(allowed)

	require.Equal(t, len(allowed)+3, len(prog))
	require.EqualValues(t, bpfLdAbsW, prog[0].Code)

	last := prog[len(prog)-1]
	require.EqualValues(t, bpfRetK, last.Code)
	require.Equal(t, seccompRetAllow, last.K)

	killInstr := prog[len(prog)-2]
	require.EqualValues(t, bpfRetK, killInstr.Code)
	require.Equal(t, seccompRetKill, killInstr.K)

	for i, nr := range allowed {
		cmp := prog[i+1]
		require.EqualValues(t, bpfJeqK, cmp.Code)
		require.Equal(t, uint32(nr), cmp.K)
	}
}
