// Package supervisor owns the name->Worker registry: it is the only
// component that creates, stops, and deletes Workers, and the only one
// that persists a restorable snapshot of worker configurations to disk.
// All operations are serialized per worker name; snapshot writes are
// ordered by command completion and are themselves serialized by a
// dedicated mutex so two concurrent mutations never race on the file.
package supervisor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zuz-pm/zuzpm/internal/env"
	"github.com/zuz-pm/zuzpm/internal/history"
	"github.com/zuz-pm/zuzpm/internal/probe"
	"github.com/zuz-pm/zuzpm/internal/procstore"
	"github.com/zuz-pm/zuzpm/internal/worker"
)

// DefaultSnapshotPath returns "~/.zpm/snapshot.json", resolved against
// the current user's home directory. Open Question 3 (resolved):
// this home-dir path is authoritative, never a tempdir variant.
func DefaultSnapshotPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".zpm", "snapshot.json")
}

type registration struct {
	name string
	cfg  worker.Config
	w    *worker.Worker
}

// Supervisor is the daemon's single top-level registry. Create with New,
// optionally call Restore once at boot, and drive it via Start/Stop/
// Restart/Delete/GetStats/List/StopAll.
type Supervisor struct {
	mu    sync.Mutex
	regs  map[string]*registration
	order []string

	baseEnv      *env.Env
	hist         history.Sink
	logger       *slog.Logger
	store        *procstore.Store
	snapshotPath string
	snapMu       sync.Mutex
	defaultProbe *probe.Config
}

// Options configures a new Supervisor.
type Options struct {
	Env          *env.Env
	History      history.Sink
	Logger       *slog.Logger
	Store        *procstore.Store
	SnapshotPath string
	// DefaultProbe, if set, is applied to any worker started without a
	// probe of its own.
	DefaultProbe *probe.Config
}

func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = procstore.New()
	}
	if opts.SnapshotPath == "" {
		opts.SnapshotPath = DefaultSnapshotPath()
	}
	return &Supervisor{
		regs:         make(map[string]*registration),
		baseEnv:      opts.Env,
		hist:         opts.History,
		logger:       opts.Logger,
		store:        opts.Store,
		snapshotPath: opts.SnapshotPath,
		defaultProbe: opts.DefaultProbe,
	}
}

// Store returns the ProcessStore this Supervisor keeps mirrored, for
// read-only observers (the control server's get-store command).
func (s *Supervisor) Store() *procstore.Store { return s.store }

// StoreRecords returns every procstore.Record as a slice of interface{},
// satisfying the control server's narrow supervisorAPI without that
// package importing procstore directly.
func (s *Supervisor) StoreRecords() []interface{} {
	records := s.store.List()
	out := make([]interface{}, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// Subscribe attaches to the named worker's stdout/stderr fan-out, for
// the control server's logs command.
func (s *Supervisor) Subscribe(name string) (<-chan worker.LogLine, func(), error) {
	w, err := s.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	ch, unsub := w.Subscribe()
	return ch, unsub, nil
}

var errAlreadyActive = fmt.Errorf("worker already active, use restart()")

// Start registers cfg under cfg.Name if unseen, or reuses an existing
// worker if it is in a terminal state. Any other existing, active
// worker is rejected. Emits a snapshot after the mutation.
func (s *Supervisor) Start(cfg worker.Config) error {
	s.mu.Lock()
	reg, exists := s.regs[cfg.Name]
	if exists {
		st := reg.w.Stats().Status
		if !isTerminalStatus(st) {
			s.mu.Unlock()
			return errAlreadyActive
		}
		reg.cfg = cfg
	} else {
		reg = &registration{name: cfg.Name, cfg: cfg, w: s.newWorker(cfg)}
		s.regs[cfg.Name] = reg
		s.order = append(s.order, cfg.Name)
	}
	w := reg.w
	s.mu.Unlock()

	err := w.Start()
	s.saveSnapshot()
	return err
}

func (s *Supervisor) newWorker(cfg worker.Config) *worker.Worker {
	base := s.baseEnv
	if base == nil {
		base = env.New()
	}
	if cfg.Probe == nil {
		cfg.Probe = s.defaultProbe
	}
	return worker.New(cfg, base, s.hist, s.logger, func(st worker.Stats) {
		s.store.Put(cfg.Name, procstore.Record{
			Status:       st.Status,
			PID:          st.PID,
			RestartCount: st.RestartCount,
			Mode:         string(st.Mode),
			Instances:    st.Instances,
			LastError:    st.LastError,
		})
	})
}

// Stop routes a stop command to the named worker.
func (s *Supervisor) Stop(name string) error {
	w, err := s.lookup(name)
	if err != nil {
		return err
	}
	err = w.Stop()
	s.saveSnapshot()
	return err
}

// Restart routes a restart command to the named worker.
func (s *Supervisor) Restart(name string) error {
	w, err := s.lookup(name)
	if err != nil {
		return err
	}
	err = w.Restart()
	s.saveSnapshot()
	return err
}

// Delete stops the named worker, then removes it from the registry and
// the process store.
func (s *Supervisor) Delete(name string) error {
	w, err := s.lookup(name)
	if err != nil {
		return err
	}
	_ = w.Shutdown()

	s.mu.Lock()
	delete(s.regs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.store.Delete(name)
	s.saveSnapshot()
	return nil
}

// GetStats returns a single-element slice for name, or stats for every
// registered worker when name is empty.
func (s *Supervisor) GetStats(name string) ([]worker.Stats, error) {
	if name != "" {
		w, err := s.lookup(name)
		if err != nil {
			return nil, err
		}
		return []worker.Stats{w.Stats()}, nil
	}

	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	out := make([]worker.Stats, 0, len(names))
	for _, n := range names {
		if w, err := s.lookup(n); err == nil {
			out = append(out, w.Stats())
		}
	}
	return out, nil
}

// List returns registered worker names in insertion order.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// StopAll stops every registered worker concurrently and waits for all
// of them, collecting per-worker errors rather than stopping early.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	workers := make([]*worker.Worker, 0, len(s.order))
	for _, n := range s.order {
		workers = append(workers, s.regs[n].w)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *worker.Worker) {
			defer wg.Done()
			errs[i] = w.Stop()
		}(i, w)
	}
	wg.Wait()

	s.saveSnapshot()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) lookup(name string) (*worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[name]
	if !ok {
		return nil, fmt.Errorf("no such worker: %s", name)
	}
	return reg.w, nil
}

func isTerminalStatus(status string) bool {
	switch status {
	case "stopped", "crashed", "errored":
		return true
	default:
		return false
	}
}

// saveSnapshot atomically persists the current set of worker
// configurations. Failures are logged and never propagated: a
// SnapshotError must never fail the operation that triggered it.
func (s *Supervisor) saveSnapshot() {
	s.mu.Lock()
	configs := make([]worker.Config, 0, len(s.order))
	for _, n := range s.order {
		configs = append(configs, s.regs[n].cfg)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		s.logger.Error("marshal snapshot", "error", err)
		return
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if err := writeFileAtomic(s.snapshotPath, data); err != nil {
		s.logger.Error("write snapshot", "path", s.snapshotPath, "error", err)
	}
}

// Restore reads the snapshot file, if present, and re-registers and
// starts each saved configuration. A missing file is not an error.
// Per-worker restore failures are logged and skipped, never fatal.
func (s *Supervisor) Restore() error {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var configs []worker.Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	// Lower Priority starts first; ties keep the snapshot's own order.
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Priority < configs[j].Priority
	})

	for _, cfg := range configs {
		if err := s.Start(cfg); err != nil {
			s.logger.Error("restore worker from snapshot", "worker", cfg.Name, "error", err)
		}
	}
	return nil
}

func writeFileAtomic(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpName, filename); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
