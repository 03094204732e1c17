//go:build !windows

package worker

import (
	"os/exec"
	"syscall"
)

// applyProcAttrs places the child in its own process group so
// procutil.Terminate can signal every instance it spawns together.
func applyProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
