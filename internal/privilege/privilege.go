// Package privilege implements the monitor's irreversible privilege drop:
// chroot, setgid/setuid, and (random-uid build) picking a currently-unused
// uid/gid. Grounded on original_source/privileges.c's drop_privileges and
// get_unused_uid/get_unused_gid.
package privilege

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/user"

	"golang.org/x/sys/unix"
)

// maxUnusedAttempts bounds the random uid/gid search the way
// original_source/privileges.c's "count <= 1000" loop does.
const maxUnusedAttempts = 1000

// Chroot chdirs into dir and, unless insecure, chroots into it and
// chdirs to "/" — setup_chroot in original_source/privileges.c.
func Chroot(dir string, insecure bool) error {
	if err := unix.Chdir(dir); err != nil {
		return fmt.Errorf("chdir %s: %w", dir, err)
	}

	if insecure {
		return nil
	}

	if err := unix.Chroot(dir); err != nil {
		return fmt.Errorf("chroot %s: %w", dir, err)
	}

	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir / after chroot: %w", err)
	}

	return nil
}

// Drop performs setsid + (unless insecure) the irreversible
// setgid/setuid sequence with real=effective=saved verification, the Go
// equivalent of drop_privileges in original_source/privileges.c. It must
// run on the monitor process (not the acceptor), exactly once, before any
// CB is forked.
func Drop(uid, gid uint32, insecure bool) error {
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}

	if insecure {
		return nil
	}

	if err := unix.Setresgid(int(gid), int(gid), int(gid)); err != nil {
		return fmt.Errorf("setresgid: %w", err)
	}
	if err := unix.Setgroups([]int{int(gid)}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setresuid(int(uid), int(uid), int(uid)); err != nil {
		return fmt.Errorf("setresuid: %w", err)
	}

	ruid, euid, suid := unix.Getresuid()
	if ruid != int(uid) || euid != int(uid) || suid != int(uid) {
		return fmt.Errorf("uid drop verification failed: real=%d effective=%d saved=%d want=%d", ruid, euid, suid, uid)
	}

	rgid, egid, sgid := unix.Getresgid()
	if rgid != int(gid) || egid != int(gid) || sgid != int(gid) {
		return fmt.Errorf("gid drop verification failed: real=%d effective=%d saved=%d want=%d", rgid, egid, sgid, gid)
	}

	return nil
}

// UnusedUID draws a uid not currently assigned to any local account, the
// way get_unused_uid in original_source/privileges.c does via repeated
// /dev/urandom draws and getpwuid lookups.
func UnusedUID() (uint32, error) {
	for i := 0; i <= maxUnusedAttempts; i++ {
		uid, err := randomUint32()
		if err != nil {
			return 0, err
		}
		if _, err := user.LookupId(fmt.Sprint(uid)); err != nil {
			return uid, nil
		}
	}
	return 0, fmt.Errorf("unable to get an unused uid")
}

// UnusedGID draws a gid not currently assigned to any local group.
func UnusedGID() (uint32, error) {
	for i := 0; i <= maxUnusedAttempts; i++ {
		gid, err := randomUint32()
		if err != nil {
			return 0, err
		}
		if _, err := user.LookupGroupId(fmt.Sprint(gid)); err != nil {
			return gid, nil
		}
	}
	return 0, fmt.Errorf("unable to get an unused gid")
}

func randomUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("read random bytes: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// CurrentUID mirrors the original's getuid() != 0 check gating the
// chroot-requires-root configuration error.
func CurrentUID() int {
	return os.Getuid()
}

// HomeDir resolves the chroot target for fixed-uid mode, the Go
// translation of drop_privileges' getpwuid(uid)->pw_dir lookup used
// when the build has no -d/--directory flag to fall back on.
func HomeDir(uid uint32) (string, error) {
	u, err := user.LookupId(fmt.Sprint(uid))
	if err != nil {
		return "", fmt.Errorf("lookup uid %d: %w", uid, err)
	}
	return u.HomeDir, nil
}
