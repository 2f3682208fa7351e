package procmon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/codingpal/agent/internal/logging"
)

var log = logging.L("procmon")

var (
	// ErrEnumeration means the OS process table could not be read at all.
	ErrEnumeration = errors.New("process enumeration failed")
	// ErrMonitorUnavailable means a provider call panicked while the monitor
	// lock was held. The call is abandoned and the table left as it was.
	ErrMonitorUnavailable = errors.New("process monitor unavailable")
)

// StatusRunning is the only status an observation can carry; exited
// processes are pruned rather than reported.
const StatusRunning = "running"

// Observation is the live view of one tracked process from a single poll.
// It is not retained by the Monitor.
type Observation struct {
	PID         uint32  `json:"pid"`
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	Status      string  `json:"status"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage uint64  `json:"memoryUsage"`
	ObservedAt  int64   `json:"observedAt"`
}

// Stats aggregates live usage across the tracked processes.
type Stats struct {
	TotalCPUPercent     float64 `json:"totalCpuPercent"`
	TotalMemoryMB       float64 `json:"totalMemoryMb"`
	TrackedProcessCount int     `json:"trackedProcessCount"`
}

// ExitHandler receives the processes pruned by a poll. It runs after the
// monitor lock is released, on the polling goroutine.
type ExitHandler func([]ExitRecord)

// Monitor tracks IDE processes across polls. All methods are safe for
// concurrent use; they are serialized on a single mutex.
type Monitor struct {
	mu         sync.Mutex
	provider   SnapshotProvider
	classifier *Classifier
	tracked    table
	now        func() time.Time
	onExit     ExitHandler
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClassifier replaces the default IDE classifier.
func WithClassifier(c *Classifier) Option {
	return func(m *Monitor) {
		if c != nil {
			m.classifier = c
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithExitHandler registers a callback for pruned processes.
func WithExitHandler(h ExitHandler) Option {
	return func(m *Monitor) { m.onExit = h }
}

// New returns a Monitor reading from provider.
func New(provider SnapshotProvider, opts ...Option) *Monitor {
	m := &Monitor{
		provider:   provider,
		classifier: defaultClassifier,
		tracked:    make(table),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Poll refreshes the process table, updates the tracked set and returns one
// observation per tracked process currently running, ordered by PID.
//
// On error nothing is mutated.
func (m *Monitor) Poll(ctx context.Context) ([]Observation, error) {
	start := time.Now()

	observations, exited, err := m.poll(ctx)
	if err != nil {
		log.Warn("poll failed", logging.KeyError, err)
		return nil, err
	}

	if len(exited) > 0 {
		for _, e := range exited {
			log.Info("tracked process exited",
				logging.KeyPID, e.PID,
				"name", e.Name,
				"peakCpu", e.PeakCPU,
				"peakMemory", e.PeakMemory,
			)
		}
		if m.onExit != nil {
			m.onExit(exited)
		}
	}

	log.Debug("poll complete",
		"observed", len(observations),
		"exited", len(exited),
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return observations, nil
}

func (m *Monitor) poll(ctx context.Context) ([]Observation, []ExitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.refreshAndList(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	now := m.now()
	present := make(map[uint32]struct{}, len(entries))
	var observations []Observation

	for _, e := range entries {
		present[e.PID] = struct{}{}
		if !m.classifier.IsTracked(e.Name) {
			continue
		}

		if _, known := m.tracked[e.PID]; !known {
			log.Info("tracking new process", logging.KeyPID, e.PID, "name", e.Name, "path", e.Path)
		}
		m.tracked.observe(e, now)

		observations = append(observations, Observation{
			PID:         e.PID,
			Name:        e.Name,
			Path:        e.Path,
			Status:      StatusRunning,
			CPUUsage:    e.CPU,
			MemoryUsage: e.Memory,
			ObservedAt:  now.Unix(),
		})
	}

	exited := m.tracked.prune(present, now)

	sort.Slice(observations, func(i, j int) bool { return observations[i].PID < observations[j].PID })
	return observations, exited, nil
}

// TotalCPUUsage refreshes and sums the current CPU usage of every tracked
// process. Tracked PIDs that are no longer resolvable count as zero.
func (m *Monitor) TotalCPUUsage(ctx context.Context) (float64, error) {
	cpu, _, _, err := m.liveTotals(ctx)
	return cpu, err
}

// TotalMemoryUsage refreshes and sums the resident memory, in bytes, of every
// tracked process.
func (m *Monitor) TotalMemoryUsage(ctx context.Context) (uint64, error) {
	_, mem, _, err := m.liveTotals(ctx)
	return mem, err
}

// Stats refreshes once and returns the live totals together with the tracked
// count.
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	cpu, mem, count, err := m.liveTotals(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalCPUPercent:     cpu,
		TotalMemoryMB:       float64(mem) / (1024 * 1024),
		TrackedProcessCount: count,
	}, nil
}

// liveTotals never prunes; only Poll removes entries.
func (m *Monitor) liveTotals(ctx context.Context) (float64, uint64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(func() error { return m.provider.Refresh(ctx) }); err != nil {
		return 0, 0, 0, err
	}

	var (
		cpu float64
		mem uint64
	)
	err := m.guard(func() error {
		for pid := range m.tracked {
			e, ok := m.provider.Lookup(pid)
			if !ok {
				continue
			}
			cpu += e.CPU
			mem += e.Memory
		}
		return nil
	})
	if err != nil {
		return 0, 0, 0, err
	}
	return cpu, mem, len(m.tracked), nil
}

// TrackedProcessCount returns the size of the tracked table without sampling.
func (m *Monitor) TrackedProcessCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// IsAnyTrackedProcessRunning reports whether the last poll left any tracked
// process in the table.
func (m *Monitor) IsAnyTrackedProcessRunning() bool {
	return m.TrackedProcessCount() > 0
}

// Tracked returns a copy of the tracked table ordered by PID.
func (m *Monitor) Tracked() []TrackedProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked.snapshot()
}

func (m *Monitor) refreshAndList(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := m.guard(func() error {
		if err := m.provider.Refresh(ctx); err != nil {
			return err
		}
		entries = m.provider.List()
		return nil
	})
	return entries, err
}

// guard runs a provider call and converts a panic into ErrMonitorUnavailable.
func (m *Monitor) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("provider panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrMonitorUnavailable, r)
		}
	}()
	return fn()
}
