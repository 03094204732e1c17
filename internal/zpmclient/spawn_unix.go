//go:build !windows

package zpmclient

import (
	"os"
	"os/exec"
	"syscall"
)

// spawnDetached launches exe as its own session leader so it survives
// the parent terminal closing. In dev mode stdio is inherited so
// output stays visible; otherwise it is discarded.
func spawnDetached(exe string, args []string, devMode bool) error {
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	if devMode {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func signalTerminate(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
