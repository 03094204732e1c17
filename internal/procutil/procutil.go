// Package procutil holds small OS-facing helpers the worker package needs
// for every platform it runs on: process-group termination, zombie
// detection, and best-effort port freeing ahead of a spawn. The actual
// signal/handle plumbing is platform-specific (procutil_unix.go /
// procutil_windows.go); this file holds the logic shared across both.
package procutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// Alive reports whether pid looks alive. On Linux it first rules out a
// zombie (a quickly-exiting child still occupies its pid in that state)
// before falling back to a platform existence probe.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return processAlive(pid)
}

func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// Terminate sends a graceful stop signal to pid's process group, waits up
// to graceDeadline for exited to fire, then escalates to a forced kill.
// exited should be a channel that closes (or is readable) once the
// caller's own wait on the child has observed it exit; Terminate does
// not itself reap the child.
func Terminate(pid int, graceDeadline time.Duration, exited <-chan struct{}) {
	if pid <= 0 {
		return
	}
	terminateGroup(pid)
	select {
	case <-exited:
		return
	case <-time.After(graceDeadline):
	}
	killGroup(pid)
	select {
	case <-exited:
	case <-time.After(200 * time.Millisecond):
	}
}

// FreePort makes a best-effort attempt to kill whatever process is
// listening on port, using the platform's usual diagnostic tool since Go
// has no portable "who holds this socket" API. Failures are swallowed:
// callers treat this as advisory, not a precondition for spawn.
func FreePort(ctx context.Context, port int) {
	if port <= 0 {
		return
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		// #nosec G204 -- port is an operator-configured integer, not user input
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", fmt.Sprintf("lsof -ti tcp:%d | xargs -r kill -9", port))
	case "linux":
		// #nosec G204
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", fmt.Sprintf("fuser -k %d/tcp", port))
	case "windows":
		// #nosec G204
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command",
			fmt.Sprintf("Get-NetTCPConnection -LocalPort %d -ErrorAction SilentlyContinue | ForEach-Object { Stop-Process -Id $_.OwningProcess -Force }", port))
	default:
		return
	}
	_ = cmd.Run()
}
