// Package metrics exposes the optional Prometheus scrape endpoint
// SPEC_FULL.md §4.11 adds on top of the stdout report original_source
// always prints: a counter of accepted connections, a gauge of active
// ones, and a per-connection outcome counter and duration histogram.
// The rusage/perf totals internal/report prints are not exported here.
//
// Grounded on the prometheus/client_golang usage pattern demonstrated
// in nabbar-golib/prometheus/metrics's example tests (NewCounterVec /
// NewGaugeVec registered against a *prometheus.Registry, incremented
// per event) — canonical-lxd pulls client_golang in only transitively,
// so nabbar-golib is the pack member that actually exercises its API.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every metric the supervisor updates as it accepts
// connections and reaps CBs.
type Recorder struct {
	registry *prometheus.Registry

	connectionsTotal prometheus.Counter
	connectionsActive prometheus.Gauge
	cbsReapedTotal   *prometheus.CounterVec
	cbDurationSeconds prometheus.Histogram
}

// NewRecorder builds a Recorder with a fresh registry so one supervisor
// process's metrics never collide with another package's default
// registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cbserver_connections_total",
			Help: "Total TCP connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cbserver_connections_active",
			Help: "Connections currently being handled.",
		}),
		cbsReapedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cbserver_cbs_reaped_total",
			Help: "Finished connections, by outcome of their monitor process.",
		}, []string{"outcome"}),
		cbDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cbserver_cb_duration_seconds",
			Help:    "Wall-clock time of one connection's monitor process, from start to exit.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(r.connectionsTotal, r.connectionsActive, r.cbsReapedTotal, r.cbDurationSeconds)

	return r
}

// ConnectionAccepted records one accepted TCP connection.
func (r *Recorder) ConnectionAccepted() {
	r.connectionsTotal.Inc()
	r.connectionsActive.Inc()
}

// ConnectionClosed records that an instance has fully finished.
func (r *Recorder) ConnectionClosed() {
	r.connectionsActive.Dec()
}

// CBReaped records one outcome label and duration. The acceptor calls it
// once per connection, after that connection's monitor process exits,
// with "exited" or "signaled" and the monitor's wall-clock run time; a
// connection running several CBs is one sample.
func (r *Recorder) CBReaped(outcome string, duration time.Duration) {
	r.cbsReapedTotal.WithLabelValues(outcome).Inc()
	r.cbDurationSeconds.Observe(duration.Seconds())
}

// Server wraps an http.Server serving /metrics on addr. A nil Server
// from NewServer with an empty addr means metrics are disabled, per
// SPEC_FULL.md §4.11's "metrics-addr unset = no listener" default.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer binds addr and registers r's registry under /metrics.
// Returns (nil, nil) when addr is empty, signaling "disabled" without
// making every caller special-case it.
func NewServer(addr string, r *Recorder) (*Server, error) {
	if addr == "" {
		return nil, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind metrics listener %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{Handler: mux},
		listener:   ln,
	}, nil
}

// Serve blocks serving /metrics until Shutdown is called.
func (s *Server) Serve() error {
	if s == nil {
		return nil
	}

	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
