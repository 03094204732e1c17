package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zuz-pm/zuzpm/internal/procutil"
)

// childProc is one live instance spawned for this worker.
type childProc struct {
	pid       int
	cmd       *exec.Cmd
	startedAt time.Time
	exited    chan struct{}
}

// interpretedExtensions maps a script extension to the runtime that
// launches it. Anything else is executed directly as its own binary.
var interpretedExtensions = map[string]string{
	".js":  "node",
	".mjs": "node",
	".cjs": "node",
	".py":  "python3",
	".rb":  "ruby",
}

// manifestNames are the files walkForRoot looks for when discovering a
// script's project root.
var manifestNames = []string{"package.json", "go.mod", "Pipfile", "Gemfile"}

func walkForRoot(scriptDir string) string {
	dir := scriptDir
	for {
		for _, name := range manifestNames {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return scriptDir
}

func (w *Worker) buildCmd(slot int) *exec.Cmd {
	scriptDir := filepath.Dir(w.cfg.ScriptPath)
	workDir := walkForRoot(scriptDir)

	var cmd *exec.Cmd
	ext := strings.ToLower(filepath.Ext(w.cfg.ScriptPath))
	if interpreter, ok := interpretedExtensions[ext]; ok {
		args := append([]string{w.cfg.ScriptPath}, w.cfg.Args...)
		// #nosec G204 -- operator-configured interpreter and script path
		cmd = exec.Command(interpreter, args...)
	} else {
		// #nosec G204
		cmd = exec.Command(w.cfg.ScriptPath, w.cfg.Args...)
	}
	cmd.Dir = workDir
	applyProcAttrs(cmd)
	cmd.Stdin = nil

	e := prependToolBin(w.env, scriptDir)
	perWorker := make([]string, 0, len(w.cfg.Env)+2)
	for k, v := range w.cfg.Env {
		perWorker = append(perWorker, k+"="+v)
	}
	mode := "production"
	if w.cfg.DevMode {
		mode = "development"
	}
	perWorker = append(perWorker, "ZUZPM_INSTANCE="+fmt.Sprint(slot), "ZUZ_ENV="+mode)
	cmd.Env = e.Merge(perWorker)

	return cmd
}

// spawnAll starts cfg.Instances children and returns how many started
// successfully. Partial failures are tolerated: a short count is still
// reported as spawn success as long as at least one child started.
func (w *Worker) spawnAll() int {
	if w.cfg.Port > 0 {
		procutil.FreePort(context.Background(), w.cfg.Port)
		time.Sleep(portSettleDelay)
	}

	started := 0
	for i := 0; i < w.cfg.Instances; i++ {
		cmd := w.buildCmd(i)
		outW, errW := w.fanout.Writers(w.cfg.Name)
		cmd.Stdout = outW
		cmd.Stderr = errW

		if err := cmd.Start(); err != nil {
			w.logger.Error("spawn failed", "slot", i, "error", err)
			continue
		}
		cp := &childProc{pid: cmd.Process.Pid, cmd: cmd, startedAt: time.Now(), exited: make(chan struct{})}
		w.mu.Lock()
		w.children[cp.pid] = cp
		w.mu.Unlock()

		started++
		go w.watchChild(cp, i)
	}
	return started
}

// watchChild waits for one child to exit and reports it on exitChan so
// exit handling runs serialized on the worker's owning goroutine.
func (w *Worker) watchChild(cp *childProc, slot int) {
	err := cp.cmd.Wait()
	close(cp.exited)
	select {
	case w.exitChan <- childExit{pid: cp.pid, err: err, slot: slot}:
	case <-w.doneChan:
	}
}

func (w *Worker) snapshotChildrenLocked() []*childProc {
	out := make([]*childProc, 0, len(w.children))
	for _, cp := range w.children {
		out = append(out, cp)
	}
	return out
}

// terminateChildren sends SIGTERM to every child's process group and
// escalates to SIGKILL after killTimeout, then waits up to an additional
// hard deadline so stop() always returns with status=Stopped.
func (w *Worker) terminateChildren(children []*childProc) {
	var wg sync.WaitGroup
	for _, cp := range children {
		wg.Add(1)
		go func(cp *childProc) {
			defer wg.Done()
			procutil.Terminate(cp.pid, w.cfg.KillTimeout, cp.exited)
			select {
			case <-cp.exited:
			case <-time.After(hardStopDeadlineExtra):
			}
		}(cp)
	}
	wg.Wait()
}
