// Command cb-server is the challenge-binary supervisor: it accepts TCP
// connections, supervises one or more challenge binaries per connection
// (wiring their stdio, inter-CB socket mesh, rlimits, and sandbox), and
// reports a pass/fail verdict. See internal/supervisor's package doc for
// the three-process-role design this binary re-execs itself through.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := cmdRoot{}
	app := rootCmd.Command()
	app.Use = "cb-server"
	app.Short = "DARPA CGC challenge-binary supervisor"
	app.Long = `Description:
  cb-server accepts TCP connections and, per connection, runs one or more
  challenge binaries under ptrace supervision: wiring stdio and an
  inter-CB socket mesh, applying rlimits and a seccomp sandbox before any
  CB instruction executes, and reporting exit status/signal/perf stats
  on the server's standard output.
`
	app.SilenceUsage = true
	app.SilenceErrors = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	forkmonitorCmd := cmdForkmonitor{}
	app.AddCommand(forkmonitorCmd.Command())

	execcbCmd := cmdExeccb{}
	app.AddCommand(execcbCmd.Command())

	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
