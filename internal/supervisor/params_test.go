package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitorParamsRoundTrip(t *testing.T) {
	p := MonitorParams{
		UID: 1000, GID: 1000, ChrootDir: "/srv/cb-shared", Insecure: true,
		Timeout: 30, Seed: "deadbeef", Programs: []string{"/bin/cb1", "/bin/cb2"},
		RemoteAddr: "10.0.0.1:4444", LogLevel: "debug", LogFile: "/var/log/cb-server.log",
	}

	encoded, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodeMonitorParams(encoded)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestDecodeMonitorParamsRejectsGarbage(t *testing.T) {
	_, err := DecodeMonitorParams("not-base64!!")
	require.Error(t, err)
}

func TestExecCBParamsRoundTrip(t *testing.T) {
	p := ExecCBParams{
		Program: "/bin/cb1", Seed: "cafebabe", HasCoreSize: true, CoreSize: 4096,
	}

	encoded, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodeExecCBParams(encoded)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestDecodeExecCBParamsRejectsGarbage(t *testing.T) {
	_, err := DecodeExecCBParams("not-base64!!")
	require.Error(t, err)
}
