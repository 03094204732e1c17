package worker

import (
	"time"

	"github.com/zuz-pm/zuzpm/internal/metrics"
	"github.com/zuz-pm/zuzpm/internal/workerstate"
)

// scheduleRestartLocked arms restartTimer for the worker's current
// backoff duration, then doubles backoff (capped at cfg.MaxBackoff) for
// next time. Called with w.mu held, from Crashed.
func (w *Worker) scheduleRestartLocked() {
	delay := w.backoff
	metrics.SetBackoff(w.cfg.Name, delay.Seconds())
	w.logger.Warn("scheduling restart", "delay", delay, "restart_count", w.restartCount)

	w.restartTimer = time.AfterFunc(delay, func() {
		select {
		case w.backoffFireCh <- struct{}{}:
		case <-w.doneChan:
		}
	})

	next := w.backoff * 2
	if next > w.cfg.MaxBackoff {
		next = w.cfg.MaxBackoff
	}
	w.backoff = next
}

// armStabilityLocked arms a one-shot timer that resets backoff/restart
// accounting once Running has held continuously for stabilityWindow.
func (w *Worker) armStabilityLocked() {
	since := w.stableSince
	w.stabilityTimer = time.AfterFunc(stabilityWindow, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.machine.Current() != workerstate.Running || w.stableSince != since {
			return
		}
		w.restartCount = 0
		w.backoff = initialBackoff
		metrics.SetBackoff(w.cfg.Name, 0)
		w.logger.Info("stability window elapsed, backoff reset")
	})
}

// publishChange notifies onChange, if set, with a fresh snapshot. Must be
// called without w.mu held, since Stats locks it itself.
func (w *Worker) publishChange() {
	if w.onChange == nil {
		return
	}
	w.onChange(w.Stats())
}

// stopTimersLocked cancels any pending restart/stability timers. Must be
// called with w.mu held.
func (w *Worker) stopTimersLocked() {
	if w.restartTimer != nil {
		w.restartTimer.Stop()
		w.restartTimer = nil
	}
	if w.stabilityTimer != nil {
		w.stabilityTimer.Stop()
		w.stabilityTimer = nil
	}
}
