package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zuz-pm/zuzpm/internal/zpmclient"
)

func newLogsCmd(cctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logs [name]",
		Short: "Stream stdout/stderr for one worker, or every worker if name is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			if _, err := cctx.client(); err != nil {
				return err
			}
			return streamLogs(cctx.socket, name)
		},
	}
}

// streamLogs holds one long-lived connection open, unlike zpmclient.Call's
// one-request-per-connection shape: the logs command's response never
// terminates on its own, so this bypasses Client.Call and reads lines
// until the process is interrupted or the daemon closes the connection.
func streamLogs(socket, name string) error {
	conn, err := zpmclient.Dial(socket, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socket, err)
	}
	defer conn.Close()

	params, _ := json.Marshal(struct {
		Name string `json:"name,omitempty"`
	}{Name: name})
	req, err := json.Marshal(zpmclient.Request{Cmd: "logs", Params: params})
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return fmt.Errorf("write logs request: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var resp zpmclient.Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if !resp.OK {
			return fmt.Errorf("%s", resp.Error)
		}
		var line string
		if err := json.Unmarshal(resp.Data, &line); err == nil {
			fmt.Println(line)
		}
	}
	return nil
}
