package privilege

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnusedUIDIsWellFormed(t *testing.T) {
	uid, err := UnusedUID()
	require.NoError(t, err)
	require.NotZero(t, uid)
}

func TestUnusedGIDIsWellFormed(t *testing.T) {
	gid, err := UnusedGID()
	require.NoError(t, err)
	require.NotZero(t, gid)
}

func TestHomeDirResolvesCurrentUser(t *testing.T) {
	dir, err := HomeDir(uint32(os.Getuid()))
	require.NoError(t, err)
	require.NotEmpty(t, dir)
}

func TestRandomUint32Varies(t *testing.T) {
	a, err := randomUint32()
	require.NoError(t, err)
	b, err := randomUint32()
	require.NoError(t, err)
	// Extremely unlikely to collide; guards against a broken reader
	// that always returns the zero value.
	require.NotEqual(t, a, b)
}
