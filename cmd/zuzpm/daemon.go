package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zuz-pm/zuzpm/internal/config"
	"github.com/zuz-pm/zuzpm/internal/control"
	"github.com/zuz-pm/zuzpm/internal/env"
	"github.com/zuz-pm/zuzpm/internal/history"
	"github.com/zuz-pm/zuzpm/internal/history/factory"
	"github.com/zuz-pm/zuzpm/internal/logger"
	"github.com/zuz-pm/zuzpm/internal/metrics"
	"github.com/zuz-pm/zuzpm/internal/supervisor"
)

// newDaemonCmd builds the hidden "daemon" subcommand: the actual
// long-running process. zpmclient.EnsureDaemon re-execs this binary
// with this subcommand when the control socket is unreachable; a
// human operator is not expected to invoke it directly.
func newDaemonCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the zuz-pm supervisor daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, debug)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to daemon config file (TOML/YAML/JSON)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	return cmd
}

func runDaemon(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewDaemon(cfg.Log.Dir, debug)
	slog.SetDefault(log)

	if err := writePidFile(pidFilePath(cfg.Namespace)); err != nil {
		log.Warn("write pid file", "error", err)
	}
	defer func() { _ = os.Remove(pidFilePath(cfg.Namespace)) }()

	sink, err := historySinkFor(cfg)
	if err != nil {
		log.Error("history sink unavailable, continuing without durable history", "error", err)
	}
	if sink != nil {
		defer func() { _ = sink.Close() }()
	}

	snapshotPath := cfg.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = supervisor.DefaultSnapshotPath()
	}

	defaultProbe, err := cfg.ProbeDefaults()
	if err != nil {
		log.Error("default_probe config invalid, ignoring", "error", err)
	}

	sup := supervisor.New(supervisor.Options{
		Env:          env.New(),
		History:      sink,
		Logger:       log,
		SnapshotPath: snapshotPath,
		DefaultProbe: defaultProbe,
	})
	if err := sup.Restore(); err != nil {
		log.Error("restore snapshot", "error", err)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Error("register metrics", "error", err)
		}
		go serveMetrics(cfg.Metrics.Listen, log)
	}

	socket := control.SocketPath(os.TempDir(), cfg.Namespace)
	srv := control.New(sup, socket, log)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("control server exited", "error", err)
		}
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
		_ = srv.Close()
		if err := sup.StopAll(); err != nil {
			log.Error("stop all workers", "error", err)
		}
	}
	return nil
}

// historySinkFor resolves the optional durable event sink named by
// cfg.History. An empty backend means no durable history: crash/restart
// events are simply not recorded beyond the daemon's own lifetime.
func historySinkFor(cfg config.Config) (history.Sink, error) {
	if cfg.History.Backend == "" || cfg.History.DSN == "" {
		return nil, nil
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history sink: %w", err)
	}
	return sink, nil
}

func serveMetrics(listen string, log *slog.Logger) {
	if listen == "" {
		listen = ":9477"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	log.Info("metrics listening", "addr", listen)
	if err := http.ListenAndServe(listen, mux); err != nil { // #nosec G114 -- internal observability endpoint
		log.Error("metrics server exited", "error", err)
	}
}

func pidFilePath(namespace string) string {
	if namespace == "" {
		namespace = "zuz-pm"
	}
	return filepath.Join(os.TempDir(), namespace+".pid")
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprint(os.Getpid())), 0o644)
}
