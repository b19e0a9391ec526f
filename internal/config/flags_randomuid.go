//go:build randomuid

package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Usage documents the randomuid build's CLI surface (spec.md §6).
const Usage = "usage: cb-server [-h] [-b backlog] [-c core_size] [-s seed] [-S skiprng] [-t timeout] [-l limit_children] [-m max_connections] [-M max_send] [-w wrapper] [--debug] [--negotiate] [--insecure] -p <port> -d <directory> binary [... binary]"

// ParseFlags binds and parses the randomuid CLI surface into a
// ServerConfig. args excludes the program name (os.Args[1:]).
func ParseFlags(args []string) (*ServerConfig, error) {
	fs := pflag.NewFlagSet("cb-server", pflag.ContinueOnError)

	cfg := &ServerConfig{Mode: ModeRandomUID}

	var maxSend uint
	var coreSize int

	fs.Uint16VarP(&cfg.Port, "port", "p", 0, "listener port")
	fs.IntVarP(&cfg.Backlog, "backlog", "b", 20, "listen backlog")
	fs.UintVarP(&cfg.Timeout, "timeout", "t", 0, "per-CB wall-clock timeout in seconds (0 = none)")
	fs.UintVarP(&cfg.Limit, "limit", "l", 40, "max concurrent CB instances")
	fs.UintVarP(&cfg.MaxConns, "max-connections", "m", 0, "max total connections served (0 = unbounded)")
	fs.UintVarP(&maxSend, "max-send", "M", 0, "sets both max_transmit and max_receive, in bytes")
	fs.IntVarP(&coreSize, "core-size", "c", -1, "core dump size limit in bytes")
	fs.StringVarP(&cfg.Seed, "seed", "s", "", "PRNG seed (mutually exclusive with --negotiate)")
	fs.StringVarP(&cfg.SkipRNG, "skip-rng", "S", "", "skip-rng count")
	fs.StringVarP(&cfg.Wrapper, "wrapper", "w", "", "wrapper executable path")
	fs.StringVarP(&cfg.ChrootDir, "directory", "d", "", "chroot directory shared by every random-uid instance")
	fs.BoolVar(&cfg.Insecure, "insecure", false, "skip chroot and sandbox (must not require root)")
	fs.BoolVar(&cfg.Negotiate, "negotiate", false, "enable wire negotiation")
	fs.BoolVar(&cfg.Debug, "debug", false, "disable ptrace attach, keep stderr on the connection")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "operational log level (trace|debug|info|warn|error)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "operational log destination (default stderr)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve /metrics on (empty disables)")
	fs.BoolVar(&cfg.ProxyProtocol, "proxy-protocol", false, "accept PROXY protocol v1/v2 on the listener")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if maxSend > 0 {
		cfg.MaxTransmit = fmt.Sprintf("max_transmit=%d", maxSend)
		cfg.MaxReceive = fmt.Sprintf("max_receive=%d", maxSend)
	}

	if coreSize >= 0 {
		cfg.HasCoreSize = true
		cfg.CoreSize = coreSize
	}

	cfg.Programs = fs.Args()

	return cfg, nil
}
