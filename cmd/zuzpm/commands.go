package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zuz-pm/zuzpm/internal/probe"
	"github.com/zuz-pm/zuzpm/internal/worker"
	"github.com/zuz-pm/zuzpm/internal/zpmclient"
)

func newStartCmd(cctx *cliContext) *cobra.Command {
	var (
		args          []string
		envKVs        []string
		mode          string
		instances     int
		port          int
		devMode       bool
		watchPaths    []string
		killTimeout   time.Duration
		maxBackoff    time.Duration
		reloadCommand string
		logSink       string
		priority      int
		probeType     string
		probeTarget   string
		probeInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start <name> <scriptPath>",
		Short: "Register and start a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			cfg := worker.Config{
				Name:          rawArgs[0],
				ScriptPath:    rawArgs[1],
				Args:          args,
				Mode:          worker.Mode(mode),
				Instances:     instances,
				Port:          port,
				DevMode:       devMode,
				WatchPaths:    watchPaths,
				KillTimeout:   killTimeout,
				MaxBackoff:    maxBackoff,
				ReloadCommand: reloadCommand,
				LogSink:       logSink,
				Priority:      priority,
			}
			if len(envKVs) > 0 {
				cfg.Env = make(map[string]string, len(envKVs))
				for _, kv := range envKVs {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
					}
					cfg.Env[k] = v
				}
			}
			if probeTarget != "" {
				cfg.Probe = &probe.Config{
					Type:     probe.Kind(probeType),
					Target:   probeTarget,
					Interval: probeInterval,
				}
			}

			c, err := cctx.client()
			if err != nil {
				return err
			}
			resp, err := c.Call("start", struct {
				Name   string        `json:"name"`
				Config worker.Config `json:"config"`
			}{Name: cfg.Name, Config: cfg})
			return printResult(resp, err)
		},
	}

	cmd.Flags().StringArrayVar(&args, "arg", nil, "argument passed to the script (repeatable)")
	cmd.Flags().StringArrayVar(&envKVs, "env", nil, "KEY=VALUE environment variable (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "fork", "fork or cluster")
	cmd.Flags().IntVar(&instances, "instances", 0, "cluster instance count (0 = runtime.NumCPU())")
	cmd.Flags().IntVar(&port, "port", 0, "port to free before spawning, for restart-safe port reuse")
	cmd.Flags().BoolVar(&devMode, "watch", false, "restart on file changes under --watch-path")
	cmd.Flags().StringArrayVar(&watchPaths, "watch-path", nil, "path to watch for changes in --watch mode (repeatable)")
	cmd.Flags().DurationVar(&killTimeout, "kill-timeout", 0, "grace period before SIGKILL on stop (default 5s)")
	cmd.Flags().DurationVar(&maxBackoff, "max-backoff", 0, "restart backoff ceiling (default 16s)")
	cmd.Flags().StringVar(&reloadCommand, "reload-command", "", "command to run before a watch-triggered restart")
	cmd.Flags().StringVar(&logSink, "log-sink", "", "file path to additionally forward stdout/stderr to")
	cmd.Flags().IntVar(&priority, "priority", 0, "start-ordering hint for snapshot restore (lower starts first)")
	cmd.Flags().StringVar(&probeType, "probe-type", "", "liveness probe kind (http, tcp or exec)")
	cmd.Flags().StringVar(&probeTarget, "probe-target", "", "liveness probe target (URL, host:port or shell command)")
	cmd.Flags().DurationVar(&probeInterval, "probe-interval", 0, "liveness probe interval")
	return cmd
}

func newStopCmd(cctx *cliContext) *cobra.Command {
	return nameCmd(cctx, "stop", "Stop a worker without removing it", "stop")
}

func newRestartCmd(cctx *cliContext) *cobra.Command {
	return nameCmd(cctx, "restart", "Restart a worker", "restart")
}

func newDeleteCmd(cctx *cliContext) *cobra.Command {
	return nameCmd(cctx, "delete", "Stop a worker and remove it from the registry", "delete")
}

// nameCmd builds a "<use> <name>" subcommand that issues cmd with a
// {name} payload; stop/restart/delete only differ by this.
func nameCmd(cctx *cliContext, use, short, cmd string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := cctx.client()
			if err != nil {
				return err
			}
			resp, err := c.Call(cmd, struct {
				Name string `json:"name"`
			}{Name: args[0]})
			return printResult(resp, err)
		},
	}
}

func newListCmd(cctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered worker names",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := cctx.client()
			if err != nil {
				return err
			}
			resp, err := c.Call("list", nil)
			return printResult(resp, err)
		},
	}
}

func newStatsCmd(cctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [name]",
		Short: "Show lifecycle stats for one worker, or every worker if name is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			c, err := cctx.client()
			if err != nil {
				return err
			}
			resp, err := c.Call("stats", struct {
				Name string `json:"name,omitempty"`
			}{Name: name})
			return printResult(resp, err)
		},
	}
}

func newStoreCmd(cctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "store",
		Short: "Dump the daemon's in-memory process store records",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := cctx.client()
			if err != nil {
				return err
			}
			resp, err := c.Call("get-store", nil)
			return printResult(resp, err)
		},
	}
}

func newKillDaemonCmd(cctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-daemon",
		Short: "Stop the daemon process itself (on SIGTERM the daemon stops all workers before exiting)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			return zpmclient.KillDaemon(pidFilePath(cctx.namespace))
		},
	}
}

// printResult renders a control-socket response, treating {ok:false} as
// a command error rather than a transport one.
func printResult(resp zpmclient.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	if len(resp.Data) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		fmt.Println(string(resp.Data))
		return nil
	}
	printJSON(v)
	return nil
}
