package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSecondsToDurationZeroMeansNoTimeout(t *testing.T) {
	require.Equal(t, time.Duration(0), secondsToDuration(0))
}

func TestSecondsToDurationConverts(t *testing.T) {
	require.Equal(t, 5*time.Second, secondsToDuration(5))
}
