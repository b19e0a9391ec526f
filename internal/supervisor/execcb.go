package supervisor

import (
	"fmt"
	"os"
	"syscall"

	"github.com/bcaswell/cb-server/internal/sandbox"
)

// RunExecCB is the execcb subcommand's entry point: it installs this
// process's own sandbox, then replaces itself with the real challenge
// binary via syscall.Exec — the analogue of start_program() running
// setup_sandbox in the forked child immediately before that child's own
// execve. Rlimits are not set here: the monitor applies them to this
// process with Prlimit at its first exec trap (see launchCB). Unlike the
// monitor, execcb never
// returns on success; it only returns (non-zero) on setup failure, since
// by the time the real CB would be running, this process no longer
// exists.
func RunExecCB() int {
	encoded := os.Getenv(execCBParamsEnv)
	if encoded == "" {
		fmt.Fprintln(os.Stderr, "execcb: missing", execCBParamsEnv)
		return 255
	}

	params, err := DecodeExecCBParams(encoded)
	if err != nil {
		fmt.Fprintln(os.Stderr, "execcb: decode params:", err)
		return 255
	}

	if !params.Insecure {
		if err := sandbox.Install(sandbox.DefaultAllowedSyscalls); err != nil {
			fmt.Fprintln(os.Stderr, "execcb: install sandbox:", err)
			return 255
		}
	}

	target, argv := resolveExec(params)

	// start_program execs with an empty envp ({NULL}), not the process's
	// own environment, so the CB starts with none of the supervisor's
	// configuration visible to it.
	if err := syscall.Exec(target, argv, []string{}); err != nil {
		fmt.Fprintln(os.Stderr, "execcb: exec", target, ":", err)
		return 255
	}

	return 0
}

// resolveExec picks the final execve target and argv: with a wrapper
// configured, the wrapper is exec'd with the fixed-position argv
// buildArgv constructs; with no wrapper, the CB itself is exec'd
// directly with an empty argv ({NULL}), per spec.md §4.2 — the CB never
// receives the seed/skiprng/max_transmit/max_receive arguments a wrapper
// would.
func resolveExec(p ExecCBParams) (target string, argv []string) {
	if p.Wrapper != "" {
		return p.Wrapper, buildArgv(p)
	}
	return p.Program, []string{}
}

// buildArgv mirrors start_program's fixed-position argv array for the
// wrapper case — {program, program, seed, skiprng, max_transmit,
// max_receive, NULL}, program repeated deliberately as both argv[0] and
// the wrapper's first real argument — truncated at the first empty slot
// rather than padding later ones, so an unset seed makes
// skiprng/max_transmit/max_receive unreachable too, not merely blank.
// Called only when a wrapper is configured; with no wrapper the CB itself
// execs with an empty argv ({NULL}), per spec.md §4.2.
func buildArgv(p ExecCBParams) []string {
	argv := []string{p.Program, p.Program}

	optional := []string{p.Seed, p.SkipRNG, p.MaxTransmit, p.MaxReceive}
	for _, v := range optional {
		if v == "" {
			break
		}
		argv = append(argv, v)
	}

	return argv
}
