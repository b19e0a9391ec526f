package netio

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// MeshPair is one CB's local/peer socketpair occupying fds 3+2i and
// 3+2i+1 in every CB's descriptor table (spec.md §4.3). Local is the fd
// this CB itself receives; Peer is the fd every *other* CB uses to reach
// this one.
type MeshPair struct {
	Local *os.File
	Peer  *os.File
}

// Descriptors is the complete per-instance fd layout: stdio plus the
// mesh, built once per connection and handed to every CB's exec.Cmd via
// Stdin/Stdout/Stderr/ExtraFiles — Go's close-on-exec default on every
// other open fd satisfies spec.md §4.3's "no stray descriptor" invariant
// without any manual bookkeeping.
type Descriptors struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// Mesh holds one MeshPair per CB, in order.
	Mesh []MeshPair

	devNull *os.File
}

// BuildDescriptors duplicates conn onto stdin/stdout (and stderr, in
// debug mode), opens /dev/null for stderr otherwise, and creates one
// AF_UNIX SOCK_STREAM socketpair per CB — the Go equivalent of
// setup_connection + setup_sockpairs, without any of the manual
// fcntl(F_DUPFD) fd-number juggling the original needs because it has a
// single flat process-wide descriptor table to manage by hand.
func BuildDescriptors(conn net.Conn, programCount int, debug bool) (*Descriptors, error) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, fmt.Errorf("connection is not a *net.TCPConn")
	}

	connFile, err := tcp.File()
	if err != nil {
		return nil, fmt.Errorf("dup connection fd: %w", err)
	}

	d := &Descriptors{
		Stdin:  connFile,
		Stdout: connFile,
	}

	if debug {
		d.Stderr = connFile
	} else {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open /dev/null: %w", err)
		}
		d.devNull = devNull
		d.Stderr = devNull
	}

	if programCount > 1 {
		mesh, err := buildMesh(programCount)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Mesh = mesh
	}

	return d, nil
}

func buildMesh(programCount int) ([]MeshPair, error) {
	mesh := make([]MeshPair, 0, programCount)

	for i := 0; i < programCount; i++ {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			for _, p := range mesh {
				p.Local.Close()
				p.Peer.Close()
			}
			return nil, fmt.Errorf("socketpair for CB %d: %w", i, err)
		}

		mesh = append(mesh, MeshPair{
			Local: os.NewFile(uintptr(fds[0]), fmt.Sprintf("mesh-local-%d", i)),
			Peer:  os.NewFile(uintptr(fds[1]), fmt.Sprintf("mesh-peer-%d", i)),
		})
	}

	return mesh, nil
}

// ExtraFiles returns the identical fd 3..3+2N ExtraFiles slice handed to
// every CB in the instance, matching setup_sockpairs: the original opens
// all N socketpairs once in the parent, before forking any CB, and never
// selectively closes any of them in a given child, so every forked CB
// inherits the complete set of pairs — not just the one "belonging" to
// it — exactly as fork() would. A CB's own wire protocol, not the
// supervisor, decides which of its inherited fds it actually uses.
func (d *Descriptors) ExtraFiles() []*os.File {
	if len(d.Mesh) == 0 {
		return nil
	}

	files := make([]*os.File, 0, len(d.Mesh)*2)
	for _, p := range d.Mesh {
		files = append(files, p.Local, p.Peer)
	}
	return files
}

// Close releases every descriptor this instance opened. CBs that have
// already been exec'd keep their own dup of each fd; closing the
// monitor's copies here is what reset_base_sockets/close_saved_sockets
// did by hand in the original.
func (d *Descriptors) Close() {
	if d.Stdin != nil {
		d.Stdin.Close()
	}
	if d.devNull != nil {
		d.devNull.Close()
	}
	for _, p := range d.Mesh {
		p.Local.Close()
		p.Peer.Close()
	}
}
