package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bcaswell/cb-server/internal/supervisor"
)

// cmdExeccb is the re-exec target start_program() becomes for each CB:
// install its sandbox on itself, then exec into the real challenge
// binary. See internal/supervisor/execcb.go.
type cmdExeccb struct{}

func (c *cmdExeccb) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "execcb"
	cmd.Hidden = true
	cmd.RunE = c.Run

	return cmd
}

func (c *cmdExeccb) Run(cmd *cobra.Command, args []string) error {
	os.Exit(supervisor.RunExecCB())
	return nil
}
