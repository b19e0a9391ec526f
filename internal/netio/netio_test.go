package netio

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindAndAccept(t *testing.T) {
	ln, err := Bind(0, 16)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	require.NotZero(t, addr.Port)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := Accept(ln, false)
		require.NoError(t, err)
		accepted <- conn
	}()

	client, err := DialTimeout(addr.String(), 0)
	require.NoError(t, err)
	defer client.Close()

	conn := <-accepted
	defer conn.Close()

	require.IsType(t, &net.TCPConn{}, conn)
}

func TestBuildDescriptorsSingleProgramHasNoMesh(t *testing.T) {
	ln, err := Bind(0, 16)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := Accept(ln, false)
		require.NoError(t, err)
		accepted <- conn
	}()

	client, err := DialTimeout(addr.String(), 0)
	require.NoError(t, err)
	defer client.Close()

	conn := <-accepted
	defer conn.Close()

	d, err := BuildDescriptors(conn, 1, false)
	require.NoError(t, err)
	defer d.Close()

	require.NotNil(t, d.Stdin)
	require.NotNil(t, d.Stdout)
	require.NotNil(t, d.Stderr)
	require.Empty(t, d.Mesh)
	require.Nil(t, d.ExtraFiles())
}

func TestBuildDescriptorsMeshWiring(t *testing.T) {
	ln, err := Bind(0, 16)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := Accept(ln, false)
		require.NoError(t, err)
		accepted <- conn
	}()

	client, err := DialTimeout(addr.String(), 0)
	require.NoError(t, err)
	defer client.Close()

	conn := <-accepted
	defer conn.Close()

	const programCount = 3
	d, err := BuildDescriptors(conn, programCount, false)
	require.NoError(t, err)
	defer d.Close()

	require.Len(t, d.Mesh, programCount)

	// Every CB gets the identical fd 3..3+2N set (setup_sockpairs opens
	// every pair once in the parent before any CB is forked, and no
	// child selectively closes fds belonging to another CB), so
	// ExtraFiles is the same flattened Local/Peer sequence regardless of
	// which CB is about to be started.
	files := d.ExtraFiles()
	require.Len(t, files, programCount*2)
	for i := 0; i < programCount; i++ {
		require.Equal(t, d.Mesh[i].Local, files[2*i])
		require.Equal(t, d.Mesh[i].Peer, files[2*i+1])
	}
}
