// Package zuzpm re-exports the daemon's core types for embedders who
// want to drive a Supervisor in-process instead of over the control
// socket (e.g. a test harness, or a single-binary deployment that
// skips the CLI/daemon split entirely). The CLI in cmd/zuzpm talks to
// a Supervisor over IPC; this facade talks to one directly.
package zuzpm

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/zuz-pm/zuzpm/internal/config"
	"github.com/zuz-pm/zuzpm/internal/control"
	"github.com/zuz-pm/zuzpm/internal/env"
	"github.com/zuz-pm/zuzpm/internal/history"
	history_factory "github.com/zuz-pm/zuzpm/internal/history/factory"
	"github.com/zuz-pm/zuzpm/internal/metrics"
	"github.com/zuz-pm/zuzpm/internal/supervisor"
	"github.com/zuz-pm/zuzpm/internal/worker"
	"github.com/zuz-pm/zuzpm/internal/zpmclient"
)

// Re-exported core types, aliased so conversions to/from the internal
// packages are zero-cost.
type (
	Config = worker.Config
	Stats  = worker.Stats
	Mode   = worker.Mode
)

const (
	ModeFork    = worker.ModeFork
	ModeCluster = worker.ModeCluster
)

type HistoryConfig = cfg.HistoryConfig
type HistorySink = history.Sink

// Supervisor is a thin facade over internal/supervisor.Supervisor,
// giving embedders a stable entry point without importing internal/*
// directly.
type Supervisor struct{ inner *supervisor.Supervisor }

// Options configures a new Supervisor. A zero Options uses an
// OS-derived base environment, no durable history, the default
// logger, and the default "~/.zpm/snapshot.json" snapshot path.
type Options struct {
	Env          *env.Env
	History      HistorySink
	SnapshotPath string
}

func New(opts Options) *Supervisor {
	return &Supervisor{inner: supervisor.New(supervisor.Options{
		Env:          opts.Env,
		History:      opts.History,
		SnapshotPath: opts.SnapshotPath,
	})}
}

func (s *Supervisor) Start(c Config) error                { return s.inner.Start(c) }
func (s *Supervisor) Stop(name string) error               { return s.inner.Stop(name) }
func (s *Supervisor) Restart(name string) error             { return s.inner.Restart(name) }
func (s *Supervisor) Delete(name string) error              { return s.inner.Delete(name) }
func (s *Supervisor) GetStats(name string) ([]Stats, error) { return s.inner.GetStats(name) }
func (s *Supervisor) List() []string                        { return s.inner.List() }
func (s *Supervisor) StopAll() error                         { return s.inner.StopAll() }
func (s *Supervisor) Restore() error                         { return s.inner.Restore() }

// Serve starts a control-socket server for this Supervisor on socket in a
// background goroutine. It returns the server's error if serving fails
// within 50ms, and otherwise the running *control.Server, which keeps
// serving until Close is called on it.
func (s *Supervisor) Serve(socket string) (*control.Server, error) {
	srv := control.New(s.inner, socket, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(50 * time.Millisecond):
		return srv, nil
	}
}

// DefaultSnapshotPath returns "~/.zpm/snapshot.json".
func DefaultSnapshotPath() string { return supervisor.DefaultSnapshotPath() }

// LoadConfig reads the daemon's optional settings file.
func LoadConfig(path string) (cfg.Config, error) { return cfg.Load(path) }

// NewClient returns a control-socket client for socket, for callers
// that want the IPC path instead of an in-process Supervisor.
func NewClient(socket string) *zpmclient.Client { return zpmclient.New(socket) }

// Metrics helpers.

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using
// the default registry. Blocks; returns any immediate listen error.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

// NewSQLiteHistorySink opens a sqlite-backed durable history sink at path.
func NewSQLiteHistorySink(path string) (HistorySink, error) {
	return history_factory.NewSinkFromDSN(path)
}

// NewPostgresHistorySink opens a postgres-backed durable history sink
// for the given connection DSN.
func NewPostgresHistorySink(dsn string) (HistorySink, error) {
	return history_factory.NewSinkFromDSN(dsn)
}
