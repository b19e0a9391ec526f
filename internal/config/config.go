// Package config defines the supervisor's immutable startup configuration
// and its command-line surface. The short-flag table mirrors the original
// cb-server getopt surface (spec.md §6) but is bound with pflag instead of
// a hand-rolled parser, and a build tag chooses between the two uid
// policies the original selected via #ifdef RANDOM_UID at compile time.
package config

import (
	"fmt"
	"os"
)

// Mode selects how a monitor obtains the uid/gid it drops privileges to.
type Mode int

const (
	// ModeFixedUID uses one operator-supplied uid/gid for every instance
	// (the default, non-randomuid build).
	ModeFixedUID Mode = iota
	// ModeRandomUID draws a fresh, currently-unused uid/gid per
	// connection and chroots into a shared directory (the randomuid
	// build tag).
	ModeRandomUID
)

func (m Mode) String() string {
	if m == ModeRandomUID {
		return "random-uid"
	}
	return "fixed-uid"
}

// ServerConfig is the supervisor's validated, immutable startup
// configuration (spec.md §3 ServerConfig, plus the SPEC_FULL.md §3/§4.8–
// §4.13 ambient and domain-stack additions).
type ServerConfig struct {
	Mode Mode

	Port    uint16
	Backlog int

	Timeout      uint
	Limit        uint
	MaxConns     uint
	MaxTransmit  string
	MaxReceive   string
	CoreSize     int
	HasCoreSize  bool
	Seed         string
	SkipRNG      string
	Wrapper      string

	UID uint32
	GID uint32

	ChrootDir string

	Insecure  bool
	Negotiate bool
	Debug     bool

	LogLevel string
	LogFile  string

	MetricsAddr   string
	ProxyProtocol bool

	Programs []string
}

// Validate enforces spec.md §6/§7's configuration-error rules: a bad
// combination here is a *configuration* error (print usage, exit -1),
// never a fatal syscall error (§4.10).
func (c *ServerConfig) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port not set")
	}

	if len(c.Programs) == 0 {
		return fmt.Errorf("no challenge binaries specified")
	}

	if c.Limit == 0 {
		return fmt.Errorf("invalid limit")
	}

	if c.Negotiate && c.Seed != "" {
		return fmt.Errorf("seed will be negotiated with cb-replay")
	}

	switch c.Mode {
	case ModeFixedUID:
		if c.UID == 0 {
			return fmt.Errorf("invalid uid (0)")
		}
		if c.GID == 0 {
			return fmt.Errorf("invalid gid (0)")
		}
	case ModeRandomUID:
		if c.ChrootDir == "" {
			return fmt.Errorf("invalid directory")
		}
	}

	if !c.Insecure && os.Getuid() != 0 {
		return fmt.Errorf("unable to chroot: either run as root or pass --insecure")
	}

	return nil
}

// IsExecutable reports whether path looks executable by its owner. A
// false result is informational only (see the startup probe logging in
// cmd/cb-server/main_run.go) and never gates an execve attempt.
func IsExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode()&0o100 != 0
}
