package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bcaswell/cb-server/internal/config"
	"github.com/bcaswell/cb-server/internal/limits"
	"github.com/bcaswell/cb-server/internal/logger"
	"github.com/bcaswell/cb-server/internal/metrics"
	"github.com/bcaswell/cb-server/internal/supervisor"
)

// cmdRoot is the acceptor's entry point — main()'s for(;;) accept loop
// in original_source/main.c, bound via pflag instead of getopt (see
// internal/config's two build-tagged ParseFlags variants).
type cmdRoot struct{}

func (c *cmdRoot) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "cb-server"
	cmd.Short = config.Usage
	cmd.DisableFlagParsing = true
	cmd.RunE = c.Run

	return cmd
}

func (c *cmdRoot) Run(cmd *cobra.Command, args []string) error {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString(config.Usage + "\n")
		os.Exit(255)
	}

	var out io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	log, err := logger.New(out, cfg.LogLevel)
	if err != nil {
		return err
	}

	for _, program := range cfg.Programs {
		if !config.IsExecutable(program) {
			log.Warn("program is not executable", logrus.Fields{"program": program})
		}
	}

	rec := metrics.NewRecorder()
	metricsSrv, err := metrics.NewServer(cfg.MetricsAddr, rec)
	if err != nil {
		return err
	}
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Serve(); err != nil {
				log.Error("metrics server", nil)
			}
		}()
	}

	if err := limits.DisableCoreDumps(); err != nil {
		log.Warn("disable core dumps on acceptor", nil)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	acceptor := supervisor.NewAcceptor(cfg, log, rec)

	err = acceptor.Run(ctx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	if err == context.Canceled {
		return nil
	}
	return err
}
