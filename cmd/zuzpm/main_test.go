package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zuz-pm/zuzpm/internal/zpmclient"
)

func TestPrintResultPropagatesTransportError(t *testing.T) {
	err := printResult(zpmclient.Response{}, errBoom)
	require.ErrorIs(t, err, errBoom)
}

func TestPrintResultPropagatesCommandError(t *testing.T) {
	err := printResult(zpmclient.Response{OK: false, Error: "no such worker: api"}, nil)
	require.EqualError(t, err, "no such worker: api")
}

func TestPrintResultOKWithNoData(t *testing.T) {
	require.NoError(t, printResult(zpmclient.Response{OK: true}, nil))
}

func TestPrintResultOKWithData(t *testing.T) {
	data, _ := json.Marshal([]string{"api", "worker"})
	require.NoError(t, printResult(zpmclient.Response{OK: true, Data: data}, nil))
}

func TestPidFilePathDefaultsNamespace(t *testing.T) {
	require.Equal(t, filepath.Join(os.TempDir(), "zuz-pm.pid"), pidFilePath(""))
	require.Equal(t, filepath.Join(os.TempDir(), "custom.pid"), pidFilePath("custom"))
}

func TestWritePidFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, writePidFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestNameCmdRequiresExactlyOneArg(t *testing.T) {
	cmd := nameCmd(&cliContext{}, "stop", "stop a worker", "stop")
	require.Error(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"api"}))
	require.Error(t, cmd.Args(cmd, []string{"api", "extra"}))
}

func TestStartCmdDeclaresExpectedFlags(t *testing.T) {
	cmd := newStartCmd(&cliContext{})
	for _, name := range []string{"arg", "env", "mode", "instances", "port", "watch", "watch-path", "kill-timeout", "max-backoff"} {
		require.NotNil(t, cmd.Flags().Lookup(name), "missing --%s flag", name)
	}
}

var errBoom = boomErr{}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }
