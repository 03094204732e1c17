package worker

import (
	"context"
	"time"

	"github.com/zuz-pm/zuzpm/internal/probe"
)

// armProbeLocked starts the liveness-probe ticker if cfg.Probe is set.
// Consecutive failures are counted inside the probe goroutine; reaching
// FailureThreshold triggers a restart through the normal Stopping path.
func (w *Worker) armProbeLocked() {
	if w.cfg.Probe == nil {
		return
	}
	cfg := *w.cfg.Probe
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.probeCancel = cancel

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if probe.Check(ctx, cfg) {
					failures = 0
					continue
				}
				failures++
				if cfg.FailureThreshold > 0 && failures >= cfg.FailureThreshold {
					w.onProbeThresholdReached()
					return
				}
			}
		}
	}()
}

// onProbeThresholdReached asks the owning goroutine to restart the
// worker, the same way an operator-issued restart() would, so a probe
// failure and a concurrent operator command serialize correctly.
func (w *Worker) onProbeThresholdReached() {
	w.mu.Lock()
	w.lastError = "liveness probe failed repeatedly"
	w.mu.Unlock()
	w.logger.Warn("probe threshold reached, restarting")
	go func() { _ = w.Restart() }()
}

// cancelProbeLocked stops the probe loop, if any. Must be called with
// w.mu held.
func (w *Worker) cancelProbeLocked() {
	if w.probeCancel != nil {
		w.probeCancel()
		w.probeCancel = nil
	}
}
