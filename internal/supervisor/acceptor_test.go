package supervisor

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bcaswell/cb-server/internal/config"
	"github.com/bcaswell/cb-server/internal/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(io.Discard, "error")
	require.NoError(t, err)
	return log
}

func TestResolveParamsFixedUIDInsecureSkipsHomeDirLookup(t *testing.T) {
	cfg := &config.ServerConfig{
		Mode: config.ModeFixedUID, UID: uint32(os.Getuid()), GID: uint32(os.Getgid()),
		Insecure: true, Programs: []string{"/bin/true"},
	}
	a := NewAcceptor(cfg, newTestLogger(t), nil)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	params, err := a.resolveParams(server)
	require.NoError(t, err)
	require.Equal(t, cfg.UID, params.UID)
	require.Equal(t, cfg.GID, params.GID)
	require.Empty(t, params.ChrootDir)
}

func TestResolveParamsFixedUIDResolvesHomeDir(t *testing.T) {
	cfg := &config.ServerConfig{
		Mode: config.ModeFixedUID, UID: uint32(os.Getuid()), GID: uint32(os.Getgid()),
		Insecure: false, Programs: []string{"/bin/true"},
	}
	a := NewAcceptor(cfg, newTestLogger(t), nil)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	params, err := a.resolveParams(server)
	require.NoError(t, err)
	require.NotEmpty(t, params.ChrootDir)
}

func TestResolveParamsRandomUIDDrawsUnusedIdentities(t *testing.T) {
	cfg := &config.ServerConfig{
		Mode: config.ModeRandomUID, ChrootDir: "/srv/cb-shared",
		Insecure: true, Programs: []string{"/bin/true"},
	}
	a := NewAcceptor(cfg, newTestLogger(t), nil)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	params, err := a.resolveParams(server)
	require.NoError(t, err)
	require.NotZero(t, params.UID)
	require.NotZero(t, params.GID)
	require.Equal(t, cfg.ChrootDir, params.ChrootDir)
}

func TestResolveParamsNegotiatesSeedOverridingConfigured(t *testing.T) {
	cfg := &config.ServerConfig{
		Mode: config.ModeFixedUID, UID: uint32(os.Getuid()), GID: uint32(os.Getgid()),
		Insecure: true, Negotiate: true, Programs: []string{"/bin/true"},
	}
	a := NewAcceptor(cfg, newTestLogger(t), nil)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	seed := []byte{0xde, 0xad, 0xbe, 0xef}
	go func() {
		writeNegotiateSeedRecord(client, seed)
		var ack [4]byte
		_, _ = io.ReadFull(client, ack[:])
	}()

	params, err := a.resolveParams(server)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(seed), params.Seed)
}

// writeNegotiateSeedRecord writes a single-record negotiate stream
// carrying one seed record, matching internal/negotiate's record-count +
// (type, size, payload) wire format.
func writeNegotiateSeedRecord(w io.Writer, seed []byte) {
	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], 1)
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(seed)))
	_, _ = w.Write(header[:])
	_, _ = w.Write(seed)
}
