// Package worker owns one logical application: it spawns its child
// processes, drives the lifecycle state machine, and coordinates backoff,
// liveness probing, and dev-mode file-watch restarts. Operator commands,
// child exits and backoff expiry are serialized on one goroutine per
// Worker reading from cmdChan, exitChan and backoffFireCh; timer and
// probe goroutines that touch state do so under the worker's own mutex
// rather than a global lock.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/zuz-pm/zuzpm/internal/env"
	"github.com/zuz-pm/zuzpm/internal/history"
	"github.com/zuz-pm/zuzpm/internal/metrics"
	"github.com/zuz-pm/zuzpm/internal/probe"
	"github.com/zuz-pm/zuzpm/internal/workerstate"
)

// Mode selects how a worker's instances relate to each other. Fork forces
// a single instance; Cluster runs N independent children (not a shared-
// socket cluster master — each child is its own process with its own
// copy of the app).
type Mode string

const (
	ModeFork    Mode = "fork"
	ModeCluster Mode = "cluster"
)

const (
	defaultKillTimeout   = 5 * time.Second
	defaultMaxBackoff    = 16 * time.Second
	initialBackoff       = 1 * time.Second
	stabilityWindow      = 5 * time.Second
	fastFailThreshold    = 1500 * time.Millisecond
	portSettleDelay      = 800 * time.Millisecond
	hardStopDeadlineExtra = 10 * time.Second
	// watchStabilityThreshold is the dev-mode file-watch "await-write-finish"
	// debounce: a burst of edits must go quiet for this long before a
	// reload fires.
	watchStabilityThreshold = 1500 * time.Millisecond
)

// Config is a worker's immutable-after-registration configuration.
type Config struct {
	Name          string            `json:"name"`
	ScriptPath    string            `json:"scriptPath"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Mode          Mode              `json:"mode,omitempty"`
	Instances     int               `json:"instances,omitempty"`
	Port          int               `json:"port,omitempty"`
	DevMode       bool              `json:"devMode,omitempty"`
	WatchPaths    []string          `json:"watchPaths,omitempty"`
	KillTimeout   time.Duration     `json:"killTimeout,omitempty"`
	MaxBackoff    time.Duration     `json:"maxBackoff,omitempty"`
	Probe         *probe.Config     `json:"probe,omitempty"`
	ReloadCommand string            `json:"reloadCommand,omitempty"`
	// LogSink, if set, is a file path that every stdout/stderr chunk is
	// additionally forwarded to, independent of devMode's echo and any
	// control-server logs subscriber.
	LogSink string `json:"logSink,omitempty"`
	// Priority is a start-ordering hint used only when resuming workers
	// in bulk from a snapshot: lower values start first. It has no
	// effect on any FSM transition.
	Priority int `json:"priority,omitempty"`
}

// Normalize applies the Fork/Cluster defaulting rules: Fork always runs
// exactly one instance; Cluster defaults to the host's CPU count when the
// operator didn't specify one.
func (c *Config) Normalize() {
	if c.Mode == "" {
		c.Mode = ModeFork
	}
	switch c.Mode {
	case ModeFork:
		c.Instances = 1
	case ModeCluster:
		if c.Instances <= 0 {
			c.Instances = runtime.NumCPU()
		}
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = defaultKillTimeout
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
}

// Stats is the externally visible snapshot returned by getStats().
type Stats struct {
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	PID          int       `json:"pid,omitempty"`
	Uptime       string    `json:"uptime,omitempty"`
	RestartCount int       `json:"restart_count"`
	CPUPercent   *float64  `json:"cpu_percent,omitempty"`
	MemoryRSS    *uint64   `json:"memory_rss,omitempty"`
	Mode         Mode      `json:"mode"`
	Instances    int       `json:"instances"`
	LastError    string    `json:"last_error,omitempty"`
}

type action int

const (
	actStart action = iota
	actStop
	actRestart
	actShutdown
)

type cmdMsg struct {
	action action
	reply  chan error
}

type childExit struct {
	pid  int
	err  error
	slot int
}

// Worker drives one application's lifecycle. Create with New, then call
// Start/Stop/Restart/Shutdown; Stats is safe to call concurrently.
type Worker struct {
	cfg      Config
	env      *env.Env
	hist     history.Sink
	logger   *slog.Logger
	fanout   *FanOut
	onChange func(Stats)

	mu           sync.Mutex
	machine      *workerstate.Machine
	children     map[int]*childProc
	restartCount int
	backoff      time.Duration
	lastError    string
	startTime    time.Time
	stableSince  time.Time

	cmdChan        chan cmdMsg
	exitChan       chan childExit
	backoffFireCh  chan struct{}
	doneChan       chan struct{}

	restartTimer   *time.Timer
	stabilityTimer *time.Timer
	probeCancel    context.CancelFunc
	watchCancel    context.CancelFunc
}

// New constructs a Worker in the Stopped state and launches its owning
// goroutine, so Start/Stop are usable as soon as it returns. onChange, if
// non-nil, is invoked with a fresh Stats snapshot after every command or
// exit-driven transition, letting a caller (e.g. a shared ProcessStore)
// mirror worker state without polling.
func New(cfg Config, baseEnv *env.Env, hist history.Sink, logger *slog.Logger, onChange func(Stats)) *Worker {
	cfg.Normalize()
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		cfg:      cfg,
		env:      baseEnv,
		hist:     hist,
		logger:   logger.With("worker", cfg.Name),
		fanout:   NewFanOut(),
		onChange: onChange,
		machine:  workerstate.New(),
		children: make(map[int]*childProc),
		backoff:  initialBackoff,
		cmdChan:       make(chan cmdMsg, 8),
		exitChan:      make(chan childExit, 16),
		backoffFireCh: make(chan struct{}, 1),
		doneChan:      make(chan struct{}),
	}
	if cfg.DevMode {
		w.fanout.EnableEcho(os.Stdout, cfg.Name)
	}
	if cfg.LogSink != "" {
		f, err := os.OpenFile(cfg.LogSink, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			w.logger.Warn("log sink unavailable", "path", cfg.LogSink, "error", err)
		} else {
			w.fanout.SetExternalSink(f)
		}
	}
	go w.run()
	return w
}

func (w *Worker) send(a action) error {
	reply := make(chan error, 1)
	select {
	case w.cmdChan <- cmdMsg{action: a, reply: reply}:
		return <-reply
	case <-w.doneChan:
		return fmt.Errorf("worker %s: shut down", w.cfg.Name)
	}
}

func (w *Worker) Start() error    { return w.send(actStart) }
func (w *Worker) Stop() error     { return w.send(actStop) }
func (w *Worker) Restart() error  { return w.send(actRestart) }
func (w *Worker) Shutdown() error { return w.send(actShutdown) }

// Subscribe registers a listener for this worker's child stdout/stderr
// bytes, used by the control server's logs stream.
func (w *Worker) Subscribe() (<-chan LogLine, func()) { return w.fanout.Subscribe() }

// Stats returns a point-in-time snapshot for getStats().
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	state := w.machine.Current()
	restarts := w.restartCount
	lastErr := w.lastError
	startTime := w.startTime
	var firstPID int
	for pid := range w.children {
		if firstPID == 0 || pid < firstPID {
			firstPID = pid
		}
	}
	w.mu.Unlock()

	st := Stats{
		Name:         w.cfg.Name,
		Status:       state.String(),
		PID:          firstPID,
		RestartCount: restarts,
		Mode:         w.cfg.Mode,
		Instances:    w.cfg.Instances,
		LastError:    lastErr,
	}
	if state == workerstate.Running && !startTime.IsZero() {
		st.Uptime = time.Since(startTime).Round(time.Second).String()
	}
	if firstPID > 0 {
		if m, err := metrics.Snapshot(int32(firstPID)); err == nil {
			cpu := m.CPUPercent
			rss := m.MemoryRSS
			st.CPUPercent = &cpu
			st.MemoryRSS = &rss
		}
	}
	return st
}

// run is the single goroutine that owns all worker state.
func (w *Worker) run() {
	defer close(w.doneChan)
	for {
		select {
		case cmd := <-w.cmdChan:
			err := w.handle(cmd.action)
			w.publishChange()
			cmd.reply <- err
			if cmd.action == actShutdown {
				return
			}
		case ex := <-w.exitChan:
			w.handleExit(ex)
			w.publishChange()
		case <-w.backoffFireCh:
			w.onBackoffFired()
			w.publishChange()
		}
	}
}

// onBackoffFired runs on the owning goroutine after the restart timer
// expires, keeping the Crashed->Starting transition serialized against
// operator commands the same way handleExit is.
func (w *Worker) onBackoffFired() {
	w.mu.Lock()
	if w.machine.Current() != workerstate.Crashed {
		w.mu.Unlock()
		return
	}
	w.restartCount++
	w.transition(workerstate.EventBackoffFired)
	w.mu.Unlock()
	_ = w.spawnAndTransition()
}

func (w *Worker) handle(a action) error {
	switch a {
	case actStart:
		return w.doStart()
	case actStop:
		return w.doStop()
	case actRestart:
		return w.doRestart()
	case actShutdown:
		return w.doStop()
	}
	return nil
}

func (w *Worker) transition(ev workerstate.Event) workerstate.State {
	prev := w.machine.Current()
	s, err := w.machine.Apply(ev)
	if err != nil {
		w.logger.Debug("ignored transition", "event", ev.String(), "error", err)
		return w.machine.Current()
	}
	metrics.RecordStateTransition(w.cfg.Name, prev.String(), s.String())
	if prev != s {
		metrics.SetCurrentState(w.cfg.Name, prev.String(), false)
	}
	metrics.SetCurrentState(w.cfg.Name, s.String(), true)
	w.logger.Info("state transition", "event", ev.String(), "to", s.String())
	return s
}

// doStart is the entry point for an operator/store-driven start(): it
// requires the worker to currently be in a terminal state and drives the
// Stopped/Errored -> Starting transition itself before spawning.
func (w *Worker) doStart() error {
	w.mu.Lock()
	current := w.machine.Current()
	w.mu.Unlock()
	if !current.Terminal() {
		return fmt.Errorf("worker %s: cannot start from state %s", w.cfg.Name, current)
	}

	w.mu.Lock()
	w.restartCount = 0
	w.backoff = initialBackoff
	w.lastError = ""
	w.stopTimersLocked()
	w.transition(workerstate.EventStart)
	w.mu.Unlock()

	return w.spawnAndTransition()
}

// spawnAndTransition performs the actual spawn and its resulting state
// transition, assuming the machine is already in Starting. Used both by
// doStart (after it drives Stopped/Errored -> Starting) and by restart/
// backoff paths that have already reached Starting through their own
// transition sequence.
func (w *Worker) spawnAndTransition() error {
	if _, err := os.Stat(w.cfg.ScriptPath); err != nil {
		w.mu.Lock()
		w.lastError = fmt.Sprintf("script not found: %v", err)
		w.transition(workerstate.EventScriptMissing)
		w.mu.Unlock()
		return nil
	}

	n := w.spawnAll()
	w.mu.Lock()
	defer w.mu.Unlock()
	if n == 0 {
		w.transition(workerstate.EventSpawnEmpty)
		return nil
	}
	w.startTime = time.Now()
	w.stableSince = time.Now()
	w.transition(workerstate.EventSpawnSuccess)
	metrics.IncStart(w.cfg.Name)
	metrics.SetRunningInstances(w.cfg.Name, n)
	w.armStabilityLocked()
	w.armProbeLocked()
	w.armWatchLocked()
	w.recordEvent(history.EventStart, fmt.Sprintf("%d instance(s)", n))
	return nil
}

func (w *Worker) doStop() error {
	w.mu.Lock()
	current := w.machine.Current()
	if current == workerstate.Stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopTimersLocked()
	w.cancelProbeLocked()
	w.cancelWatchLocked()
	w.transition(workerstate.EventStop)
	children := w.snapshotChildrenLocked()
	w.mu.Unlock()

	w.terminateChildren(children)
	w.recordEvent(history.EventStop, "")
	metrics.IncStop(w.cfg.Name)
	return nil
}

func (w *Worker) doRestart() error {
	w.mu.Lock()
	current := w.machine.Current()

	if current == workerstate.Stopped || current == workerstate.Errored {
		w.mu.Unlock()
		return w.doStart()
	}

	if current == workerstate.Crashed {
		// No children are alive to wait on; drive straight through
		// Stopping back to Starting instead of waiting for an exit
		// event that will never arrive.
		w.stopTimersLocked()
		w.transition(workerstate.EventRestart)
		w.transition(workerstate.EventChildrenDrained)
		w.mu.Unlock()
		metrics.IncRestart(w.cfg.Name)
		w.recordEvent(history.EventRestart, "")
		return w.spawnAndTransition()
	}

	w.stopTimersLocked()
	w.cancelProbeLocked()
	w.cancelWatchLocked()
	w.transition(workerstate.EventRestart)
	children := w.snapshotChildrenLocked()
	w.mu.Unlock()

	w.recordEvent(history.EventRestart, "")
	w.terminateChildren(children)
	metrics.IncRestart(w.cfg.Name)
	return nil
}

// handleExit is invoked on the owning goroutine whenever a spawned child's
// Wait() returns, keeping child-exit handling serialized against operator
// commands for the same worker.
func (w *Worker) handleExit(ex childExit) {
	w.mu.Lock()
	delete(w.children, ex.pid)
	remaining := len(w.children)
	current := w.machine.Current()
	intentional := current == workerstate.Stopping
	w.mu.Unlock()

	if intentional {
		if remaining == 0 {
			w.mu.Lock()
			next := w.transition(workerstate.EventChildrenDrained)
			w.mu.Unlock()
			if next == workerstate.Starting {
				_ = w.spawnAndTransition()
			}
		}
		return
	}

	if remaining > 0 {
		// other instances still up; nothing to do until the last one exits
		return
	}

	w.mu.Lock()
	uptime := time.Since(w.startTime)
	if uptime < fastFailThreshold {
		w.lastError = "fast-fail"
		w.logger.Warn("child exited almost immediately after start", "uptime", uptime)
	} else if ex.err != nil {
		w.lastError = ex.err.Error()
	}
	w.cancelProbeLocked()
	w.transition(workerstate.EventChildExitCrash)
	w.scheduleRestartLocked()
	w.mu.Unlock()

	metrics.IncCrash(w.cfg.Name)
	w.recordEvent(history.EventCrash, w.lastErrorSnapshot())
}

func (w *Worker) lastErrorSnapshot() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

func (w *Worker) recordEvent(t history.EventType, detail string) {
	if w.hist == nil {
		return
	}
	w.mu.Lock()
	var pid int
	for p := range w.children {
		pid = p
		break
	}
	w.mu.Unlock()
	_ = w.hist.Send(context.Background(), history.Event{
		Worker:     w.cfg.Name,
		Type:       t,
		OccurredAt: time.Now(),
		PID:        pid,
		Detail:     detail,
	})
}

// prependToolBin adds a project-local tool-bin directory (e.g.
// node_modules/.bin) ahead of PATH, mirroring how interpreted-language
// runtimes resolve locally installed CLIs before falling back to global
// ones.
func prependToolBin(e *env.Env, scriptDir string) *env.Env {
	bin := filepath.Join(scriptDir, "node_modules", ".bin")
	if st, err := os.Stat(bin); err == nil && st.IsDir() {
		return e.PrependPath(bin)
	}
	return e
}
