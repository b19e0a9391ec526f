package supervisor

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/bcaswell/cb-server/internal/config"
	"github.com/bcaswell/cb-server/internal/logger"
	"github.com/bcaswell/cb-server/internal/metrics"
	"github.com/bcaswell/cb-server/internal/negotiate"
	"github.com/bcaswell/cb-server/internal/netio"
	"github.com/bcaswell/cb-server/internal/privilege"
	"github.com/bcaswell/cb-server/internal/report"
)

// Acceptor is the long-lived process bound to the listening socket — the
// Go analogue of main()'s "for (;;) { accept(); fork(); }" loop, minus
// the fork: each accepted connection is handed to a freshly re-exec'd
// "cb-server forkmonitor" process instead (see params.go's package doc).
type Acceptor struct {
	cfg     *config.ServerConfig
	log     *logger.Logger
	metrics *metrics.Recorder
	rpt     *report.Writer

	sem       *semaphore.Weighted
	connCount atomic.Uint64
}

// NewAcceptor builds an Acceptor bound to cfg, admission-controlled to
// at most cfg.Limit concurrent monitor processes — the Go equivalent of
// -l/--limit's num_children-style cap, enforced here instead of inside
// one shared process since every connection is now its own process.
func NewAcceptor(cfg *config.ServerConfig, log *logger.Logger, rec *metrics.Recorder) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		log:     log,
		metrics: rec,
		rpt:     report.New(os.Stdout),
		sem:     semaphore.NewWeighted(int64(cfg.Limit)),
	}
}

// Run binds the listener and accepts connections until ctx is canceled
// or -m/--max-connections total connections have been served.
func (a *Acceptor) Run(ctx context.Context) error {
	ln, err := netio.Bind(a.cfg.Port, a.cfg.Backlog)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.log.Info("listening", logrus.Fields{"port": a.cfg.Port, "mode": a.cfg.Mode.String()})

	for {
		if a.cfg.MaxConns > 0 && a.connCount.Load() >= uint64(a.cfg.MaxConns) {
			a.log.Info("max connections reached, no longer accepting", nil)
			<-ctx.Done()
			return ctx.Err()
		}

		conn, err := netio.Accept(ln, a.cfg.ProxyProtocol)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Warn("accept", logrus.Fields{"error": err})
			continue
		}

		a.connCount.Add(1)

		if err := a.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return ctx.Err()
		}

		go a.handle(ctx, conn)
	}
}

// handle resolves this connection's per-instance parameters and re-execs
// into "cb-server forkmonitor", blocking until that process exits.
func (a *Acceptor) handle(ctx context.Context, conn net.Conn) {
	defer a.sem.Release(1)

	connID := uuid.NewString()
	ctxLog := a.log.WithFields(logrus.Fields{"conn": connID, "remote": conn.RemoteAddr().String()})

	if a.metrics != nil {
		a.metrics.ConnectionAccepted()
		defer a.metrics.ConnectionClosed()
	}

	params, err := a.resolveParams(conn)
	if err != nil {
		ctxLog.With(logrus.Fields{"error": err}).Error("resolve connection parameters")
		conn.Close()
		return
	}

	if err := a.spawnMonitor(ctx, conn, params); err != nil {
		ctxLog.With(logrus.Fields{"error": err}).Error("forkmonitor")
	}
}

// resolveParams performs everything the acceptor must decide before the
// monitor takes over: negotiate a seed if enabled, draw a uid/gid for
// random-uid mode, and resolve the chroot target for whichever mode is
// active.
func (a *Acceptor) resolveParams(conn net.Conn) (MonitorParams, error) {
	params := MonitorParams{
		Insecure:    a.cfg.Insecure,
		Debug:       a.cfg.Debug,
		Timeout:     a.cfg.Timeout,
		Wrapper:     a.cfg.Wrapper,
		Seed:        a.cfg.Seed,
		SkipRNG:     a.cfg.SkipRNG,
		MaxTransmit: a.cfg.MaxTransmit,
		MaxReceive:  a.cfg.MaxReceive,
		HasCoreSize: a.cfg.HasCoreSize,
		CoreSize:    a.cfg.CoreSize,
		Programs:    a.cfg.Programs,
		RemoteAddr:  conn.RemoteAddr().String(),
		LogLevel:    a.cfg.LogLevel,
		LogFile:     a.cfg.LogFile,
	}

	// negotiate() in original_source/main.c prints this line
	// unconditionally, before checking negotiate_flag itself, so it's
	// written here regardless of whether negotiation actually runs.
	a.rpt.NegotiationFlag(a.cfg.Negotiate)

	if a.cfg.Negotiate {
		result, err := negotiate.Negotiate(conn)
		if err != nil {
			return params, fmt.Errorf("negotiate: %w", err)
		}
		if len(result.Seed) > 0 {
			params.Seed = hex.EncodeToString(result.Seed)
		}
	}

	switch a.cfg.Mode {
	case config.ModeFixedUID:
		params.UID = a.cfg.UID
		params.GID = a.cfg.GID
		if !a.cfg.Insecure {
			dir, err := privilege.HomeDir(a.cfg.UID)
			if err != nil {
				return params, fmt.Errorf("resolve home directory: %w", err)
			}
			params.ChrootDir = dir
		}
	case config.ModeRandomUID:
		uid, err := privilege.UnusedUID()
		if err != nil {
			return params, fmt.Errorf("draw unused uid: %w", err)
		}
		gid, err := privilege.UnusedGID()
		if err != nil {
			return params, fmt.Errorf("draw unused gid: %w", err)
		}
		params.UID = uid
		params.GID = gid
		params.ChrootDir = a.cfg.ChrootDir
	}

	return params, nil
}

// spawnMonitor re-execs this binary into its own "forkmonitor"
// subcommand, handing the connection over as an inherited file
// descriptor and MonitorParams through the environment — the re-exec
// standing in for handle()'s fork(), per params.go's package doc.
func (a *Acceptor) spawnMonitor(ctx context.Context, conn net.Conn, params MonitorParams) error {
	tcp, ok := netio.RawTCPConn(conn)
	if !ok {
		conn.Close()
		return fmt.Errorf("connection has no underlying *net.TCPConn")
	}

	connFile, err := tcp.File()
	if err != nil {
		return fmt.Errorf("dup connection fd: %w", err)
	}
	defer connFile.Close()
	defer conn.Close()

	encoded, err := params.Encode()
	if err != nil {
		return fmt.Errorf("encode monitor params: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve self path: %w", err)
	}

	cmd := exec.CommandContext(ctx, self, "forkmonitor")
	cmd.Env = append(os.Environ(), monitorParamsEnv+"="+encoded)
	cmd.ExtraFiles = []*os.File{connFile}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	started := time.Now()
	runErr := cmd.Run()
	if a.metrics != nil {
		a.metrics.CBReaped(connectionOutcome(runErr), time.Since(started))
	}

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			return nil
		}
		return fmt.Errorf("run forkmonitor: %w", runErr)
	}

	return nil
}

// connectionOutcome labels a finished forkmonitor run the way
// accounting.Outcome labels one CB, collapsed to this connection's
// single verdict (see DESIGN.md's "CBReaped is connection-scoped" note).
func connectionOutcome(err error) string {
	if err == nil {
		return "exited"
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ExitCode() < 0 {
			return "signaled"
		}
		return "exited"
	}
	return "signaled"
}
