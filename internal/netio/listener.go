// Package netio binds the supervisor's listening socket and builds the
// per-CB descriptor layout (stdio plus the CB-to-CB mesh) that
// os/exec.Cmd wires onto every monitored process. Grounded on
// original_source/tools/service-launcher/sockets.c's socket_bind,
// setup_connection, and setup_sockpairs.
package netio

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	proxyproto "github.com/armon/go-proxyproto"
	"golang.org/x/sys/unix"
)

// Bind creates the listening TCP socket with SO_REUSEADDR and a 5-second
// SO_LINGER, matching socket_bind's setsockopt sequence (TCP_NODELAY is
// applied per accepted connection instead of on the listening socket
// itself — see Accept — since that is the option's effective scope).
// Bind always returns a plain listener: PROXY protocol unwrapping
// (SPEC_FULL.md §4.13) happens per accepted connection in Accept instead
// of at the listener level, so the raw *net.TCPConn stays reachable
// afterward — see Connection's doc comment for why that matters.
// backlog is not passed to listen(2): the listener uses the Go runtime's
// default backlog whatever value is given.
func Bind(port uint16, backlog int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setListenSockopts(int(fd))
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl // backlog is not applied; see Bind's doc comment.
	}
	_ = backlog

	return ln, nil
}

func setListenSockopts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("SO_REUSEADDR: %w", err)
	}

	linger := unix.Linger{Onoff: 1, Linger: 5}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		return fmt.Errorf("SO_LINGER: %w", err)
	}

	return nil
}

// Connection pairs the net.Conn the rest of the supervisor reads/writes
// through (PROXY-protocol-unwrapped, so RemoteAddr reports the real
// client) with the raw *net.TCPConn underneath it. spawnMonitor needs
// that raw conn's fd, via .File(), to dup onto the re-exec'd monitor —
// something a bare proxyproto.Conn can't provide, since it doesn't
// expose the net.Conn it wraps. Wrapping happens once, here, at accept
// time, so both ends of that need are captured before anything has a
// chance to lose the raw conn behind an opaque interface value.
type Connection struct {
	net.Conn
	raw *net.TCPConn
}

// Accept blocks for the next connection, applies TCP_NODELAY to it (the
// accepted-per-connection analogue of socket_bind's TCP_NODELAY option),
// and — when proxyProtocol is set — unwraps a PROXY protocol v1/v2
// preamble so RemoteAddr reflects the real client rather than the
// fronting proxy. The acceptor's admission control (internal/supervisor's
// semaphore) replaces socket_accept's 100µs select-then-accept poll loop
// entirely: a blocking net.Listener.Accept in its own goroutine needs no
// cooperative polling against a signal handler the way the original
// single-threaded accept loop did against SIGCHLD.
func Accept(ln net.Listener, proxyProtocol bool) (net.Conn, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}

	tcp, _ := conn.(*net.TCPConn)
	if tcp != nil {
		_ = tcp.SetNoDelay(true)
	}

	if !proxyProtocol {
		return conn, nil
	}

	return &Connection{Conn: proxyproto.NewConn(conn, 0), raw: tcp}, nil
}

// RawTCPConn returns the *net.TCPConn backing conn, unwrapping a
// Connection if conn arrived via a PROXY-protocol-enabled Accept.
// spawnMonitor uses this instead of a bare type assertion so duping a
// connection's fd for the re-exec'd monitor works in both modes.
func RawTCPConn(conn net.Conn) (*net.TCPConn, bool) {
	if c, ok := conn.(*Connection); ok {
		return c.raw, c.raw != nil
	}
	tcp, ok := conn.(*net.TCPConn)
	return tcp, ok
}

// DialTimeout is a small convenience used by tests to exercise Bind/Accept
// without pulling a full client stack into test files.
func DialTimeout(addr string, d time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, d)
}
