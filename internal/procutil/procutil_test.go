//go:build !windows

package procutil

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAliveFalseForBogusPID(t *testing.T) {
	require.False(t, Alive(0))
	require.False(t, Alive(-1))
}

func TestTerminateNoopForZeroPID(t *testing.T) {
	require.NotPanics(t, func() {
		Terminate(0, 10*time.Millisecond, make(chan struct{}))
	})
}

func TestTerminateEscalatesToKill(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	Terminate(cmd.Process.Pid, 50*time.Millisecond, exited)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after Terminate")
	}
}

func TestFreePortNoopForZero(t *testing.T) {
	require.NotPanics(t, func() {
		FreePort(context.Background(), 0)
	})
}
