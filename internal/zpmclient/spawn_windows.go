//go:build windows

package zpmclient

import (
	"os"
	"os/exec"
	"syscall"
)

// spawnDetached launches exe as a background process. Windows has no
// setsid equivalent here; CREATE_NEW_PROCESS_GROUP keeps it from
// receiving the parent console's Ctrl-C.
func spawnDetached(exe string, args []string, devMode bool) error {
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200}
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
	return proc.Kill()
}
