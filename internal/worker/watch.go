package worker

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// armWatchLocked starts the dev-mode file watcher if cfg.DevMode is set.
// Changes are debounced: a burst of edits within watchStabilityThreshold
// collapses into a single restart.
func (w *Worker) armWatchLocked() {
	if !w.cfg.DevMode {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("dev-mode watcher unavailable", "error", err)
		return
	}

	roots := w.cfg.WatchPaths
	if len(roots) == 0 {
		roots = []string{filepath.Join(walkForRoot(filepath.Dir(w.cfg.ScriptPath)), "src")}
	}
	for _, root := range roots {
		if err := watcher.Add(root); err != nil {
			w.logger.Warn("cannot watch path", "path", root, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.watchCancel = func() {
		cancel()
		_ = watcher.Close()
	}

	go w.watchLoop(ctx, watcher)
}

func (w *Worker) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ignoredPath(ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(watchStabilityThreshold, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchStabilityThreshold)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		case <-fire:
			w.onFileChanged(ctx)
		}
	}
}

func ignoredPath(name string) bool {
	for _, frag := range []string{"/.git/", "/node_modules/", "~", ".swp", ".log"} {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return strings.HasSuffix(name, ".pid")
}

func (w *Worker) onFileChanged(ctx context.Context) {
	w.logger.Info("file change detected, reloading")
	if w.cfg.ReloadCommand != "" {
		cmd := buildReloadCmd(ctx, w.cfg.ReloadCommand)
		cmd.Dir = filepath.Dir(w.cfg.ScriptPath)
		cmd.Env = prependToolBin(w.env, cmd.Dir).Merge(nil)
		if err := cmd.Run(); err != nil {
			w.logger.Error("reload command failed", "error", err)
			return
		}
	}
	go func() { _ = w.Restart() }()
}

func buildReloadCmd(ctx context.Context, command string) *exec.Cmd {
	// #nosec G204 -- operator-configured reload command
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

// cancelWatchLocked stops the dev-mode watcher, if any. Must be called
// with w.mu held.
func (w *Worker) cancelWatchLocked() {
	if w.watchCancel != nil {
		w.watchCancel()
		w.watchCancel = nil
	}
}
