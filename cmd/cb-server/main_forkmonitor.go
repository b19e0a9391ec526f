package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bcaswell/cb-server/internal/supervisor"
)

// cmdForkmonitor is the re-exec target handle() becomes: one per
// accepted connection, carrying its MonitorParams through the
// environment and its connection socket through an inherited fd. See
// internal/supervisor's package doc for why this replaces fork().
type cmdForkmonitor struct{}

func (c *cmdForkmonitor) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "forkmonitor"
	cmd.Hidden = true
	cmd.RunE = c.Run

	return cmd
}

func (c *cmdForkmonitor) Run(cmd *cobra.Command, args []string) error {
	os.Exit(supervisor.RunMonitor())
	return nil
}
