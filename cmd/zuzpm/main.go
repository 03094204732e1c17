// Command zuzpm is the operator-facing CLI. Every subcommand except the
// hidden "daemon" one is a thin IPC client: it marshals flags into a
// control-socket request, ensures a daemon is reachable first (spawning
// one detached if not), and prints the response. No process lifecycle
// logic lives here; that all happens inside the daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zuz-pm/zuzpm/internal/control"
	"github.com/zuz-pm/zuzpm/internal/zpmclient"
)

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// cliContext carries the resolved socket path and the flags needed to
// spawn the daemon on demand, threaded through every subcommand.
type cliContext struct {
	namespace string
	socket    string
	devMode   bool
}

func (c *cliContext) client() (*zpmclient.Client, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable: %w", err)
	}
	if err := zpmclient.EnsureDaemon(c.socket, exe, []string{"daemon"}, c.devMode); err != nil {
		return nil, fmt.Errorf("ensure daemon: %w", err)
	}
	return zpmclient.New(c.socket), nil
}

func main() {
	cctx := &cliContext{}
	var namespace string

	root := &cobra.Command{
		Use:   "zuzpm",
		Short: "Supervise long-running processes (start, restart on crash, stream logs)",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cctx.namespace = namespace
			cctx.socket = control.SocketPath(os.TempDir(), namespace)
		},
	}
	root.PersistentFlags().StringVar(&namespace, "namespace", "zuz-pm", "daemon namespace; selects which control socket to use")
	root.PersistentFlags().BoolVar(&cctx.devMode, "dev", false, "run the daemon with stdio inherited instead of discarded, for local debugging")

	root.AddCommand(
		newDaemonCmd(),
		newStartCmd(cctx),
		newStopCmd(cctx),
		newRestartCmd(cctx),
		newDeleteCmd(cctx),
		newListCmd(cctx),
		newStatsCmd(cctx),
		newLogsCmd(cctx),
		newStoreCmd(cctx),
		newKillDaemonCmd(cctx),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
