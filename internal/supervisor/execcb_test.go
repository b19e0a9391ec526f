package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildArgvTruncatesAtFirstEmptySlot(t *testing.T) {
	tests := []struct {
		name string
		p    ExecCBParams
		want []string
	}{
		{
			name: "all fields set",
			p: ExecCBParams{
				Program: "/cb/binary", Seed: "deadbeef", SkipRNG: "10",
				MaxTransmit: "max_transmit=1024", MaxReceive: "max_receive=1024",
			},
			want: []string{
				"/cb/binary", "/cb/binary", "deadbeef", "10",
				"max_transmit=1024", "max_receive=1024",
			},
		},
		{
			name: "no seed truncates everything after it",
			p:    ExecCBParams{Program: "/cb/binary", SkipRNG: "10", MaxTransmit: "x"},
			want: []string{"/cb/binary", "/cb/binary"},
		},
		{
			name: "seed but no skiprng truncates the rest",
			p:    ExecCBParams{Program: "/cb/binary", Seed: "ab", MaxTransmit: "x"},
			want: []string{"/cb/binary", "/cb/binary", "ab"},
		},
		{
			name: "nothing optional set",
			p:    ExecCBParams{Program: "/cb/binary"},
			want: []string{"/cb/binary", "/cb/binary"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, buildArgv(tt.p))
		})
	}
}

func TestResolveExecWithWrapperUsesFixedArgv(t *testing.T) {
	p := ExecCBParams{Program: "/cb/binary", Wrapper: "/usr/bin/wrapper", Seed: "ab"}

	target, argv := resolveExec(p)

	require.Equal(t, "/usr/bin/wrapper", target)
	require.Equal(t, []string{"/cb/binary", "/cb/binary", "ab"}, argv)
}

func TestResolveExecWithoutWrapperExecsCBWithEmptyArgv(t *testing.T) {
	p := ExecCBParams{Program: "/cb/binary", Seed: "ab", SkipRNG: "1"}

	target, argv := resolveExec(p)

	require.Equal(t, "/cb/binary", target)
	require.Empty(t, argv)
}
