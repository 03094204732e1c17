package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics is a single-PID resource usage sample. It backs
// getStats()'s cpu%/RSS fields. It carries no heap figure, which has no
// meaning for an arbitrary child process.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot queries the OS for the current resource usage of pid. Errors
// are expected when the process has already exited between the caller's
// liveness check and this call; callers treat a non-nil error as "report
// these fields as null" rather than propagating a failure.
func Snapshot(pid int32) (ProcessMetrics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("open process handle: %w", err)
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("cpu percent unavailable", "pid", pid, "error", err)
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("memory info: %w", err)
	}

	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("thread count unavailable", "pid", pid, "error", err)
	}

	m := ProcessMetrics{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			m.NumFDs = numFDs
		}
	}
	return m, nil
}

// History keeps a bounded, oldest-first ring of samples per worker
// name, for operators who poll stats and want a short trend rather than
// only the instantaneous value.
type History struct {
	mu      sync.RWMutex
	maxSize int
	samples map[string][]ProcessMetrics
}

func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = 60
	}
	return &History{maxSize: maxSize, samples: make(map[string][]ProcessMetrics)}
}

func (h *History) Add(name string, m ProcessMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := append(h.samples[name], m)
	if len(s) > h.maxSize {
		s = s[len(s)-h.maxSize:]
	}
	h.samples[name] = s
}

func (h *History) Get(name string) []ProcessMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.samples[name]
	out := make([]ProcessMetrics, len(s))
	copy(out, s)
	return out
}

func (h *History) Forget(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.samples, name)
}

// Collector periodically snapshots a caller-supplied set of live PIDs
// and records them both into History and into the Prometheus gauges
// registered by Register, mirroring the lifecycle counters' lazy-register
// behavior.
type Collector struct {
	interval time.Duration
	hist     *History
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCollector(interval time.Duration, hist *History) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{interval: interval, hist: hist, stopCh: make(chan struct{})}
}

// Start runs the periodic collection loop until ctx is cancelled or Stop
// is called. getLive returns the current name->pid set to sample.
func (c *Collector) Start(ctx context.Context, getLive func() map[string]int32) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				c.collect(getLive())
			}
		}
	}()
}

func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) collect(live map[string]int32) {
	for name, pid := range live {
		if pid <= 0 {
			continue
		}
		m, err := Snapshot(pid)
		if err != nil {
			continue
		}
		c.hist.Add(name, m)
		SetRunningInstances(name, 1)
	}
}
