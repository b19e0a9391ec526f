// Package supervisor is the Go-native replacement for
// original_source/main.c's accept loop and handle()/start_program()
// pair. Grounded on lxd-user/main_daemon.go's accept-loop shape and
// lxd-user/main_callhook.go's hidden-subcommand re-exec pattern.
//
// Three process roles replace the original's single binary's two
// fork() levels:
//
//   - the acceptor (Acceptor.Run) is the long-lived, multi-threaded Go
//     process bound to the listening socket — the analogue of main()'s
//     for(;;) loop, minus the per-connection fork().
//   - the monitor (one "cb-server forkmonitor" re-exec per accepted
//     connection) is the analogue of handle(): it owns one connection's
//     entire CB tree, drops privileges once, and terminates with the
//     connection's verdict exit code. Go cannot safely fork() its own
//     multi-threaded runtime the way the original child process does,
//     so a fresh re-exec'd process stands in for that fork() — see
//     DESIGN.md's "re-exec into hidden subcommand" entry.
//   - the exec helper (one "cb-server execcb" re-exec per CB) is the
//     analogue of start_program(): a traced process whose sole job is
//     to install the per-CB sandbox on itself and then execve into the
//     real challenge binary. Go's os/exec gives no way
//     to run arbitrary code between a child's fork and its exec (unlike
//     the original's child, which calls set_cb_resources and
//     setup_sandbox on itself before its own execve); re-execing into a
//     tiny helper that does that work on itself, then call
//     syscall.Exec, reopens that window. Because PTRACE_TRACEME stays
//     in effect across every subsequent execve a traced process makes,
//     the monitor observes two SIGTRAP stops per CB — the helper's own
//     startup exec, then its self-exec into the real binary — and
//     applies rlimits at the first and lets the perf counters'
//     enable_on_exec bit arm against the second, documented in
//     instance.go's launchCB.
package supervisor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MonitorParams is everything the acceptor resolves per connection
// (negotiated seed, random-uid draw, chroot target) that the re-exec'd
// monitor process needs but cannot recompute itself — the Go analogue
// of the original's fork()'d child simply inheriting its parent's
// already-resolved local variables.
type MonitorParams struct {
	UID       uint32
	GID       uint32
	ChrootDir string
	Insecure  bool
	Debug     bool

	Timeout     uint
	Wrapper     string
	Seed        string
	SkipRNG     string
	MaxTransmit string
	MaxReceive  string
	HasCoreSize bool
	CoreSize    int

	Programs []string

	RemoteAddr string

	LogLevel string
	LogFile  string
}

const monitorParamsEnv = "CBSERVER_MONITOR_PARAMS"

// Encode serializes p for the environment of a re-exec'd monitor
// process.
func (p MonitorParams) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal monitor params: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeMonitorParams reverses Encode, called by the forkmonitor
// subcommand at startup.
func DecodeMonitorParams(encoded string) (MonitorParams, error) {
	var p MonitorParams

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return p, fmt.Errorf("decode monitor params: %w", err)
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("unmarshal monitor params: %w", err)
	}

	return p, nil
}

// ExecCBParams is what a "cb-server execcb" helper needs to install its
// own sandbox/rlimits and then become the real CB.
type ExecCBParams struct {
	Program     string
	Wrapper     string
	Seed        string
	SkipRNG     string
	MaxTransmit string
	MaxReceive  string
	HasCoreSize bool
	CoreSize    int64
	Insecure    bool
}

const execCBParamsEnv = "CBSERVER_EXECCB_PARAMS"

// Encode serializes p for the environment of a re-exec'd execcb helper.
func (p ExecCBParams) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal execcb params: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeExecCBParams reverses Encode.
func DecodeExecCBParams(encoded string) (ExecCBParams, error) {
	var p ExecCBParams

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return p, fmt.Errorf("decode execcb params: %w", err)
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("unmarshal execcb params: %w", err)
	}

	return p, nil
}
