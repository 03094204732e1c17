//go:build windows

package worker

import (
	"os/exec"
	"syscall"
)

// applyProcAttrs isolates the child in its own process group so it
// doesn't receive the daemon's own console Ctrl-C.
func applyProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
