package procmon

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemProvider reads the live process table through gopsutil.
//
// gopsutil derives Percent(0) from the CPU times recorded by the previous call
// on the same *process.Process, so handles are cached across refreshes to get
// per-interval CPU usage. A handle's first sample reads 0.
type SystemProvider struct {
	mu      sync.RWMutex
	handles map[int32]*cachedHandle
	entries map[uint32]Entry
}

type cachedHandle struct {
	proc       *process.Process
	createTime int64
}

// NewSystemProvider returns a provider with an empty cache. Call Refresh
// before reading from it.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{
		handles: make(map[int32]*cachedHandle),
		entries: make(map[uint32]Entry),
	}
}

// Refresh enumerates all processes and resamples CPU and memory.
//
// A process whose name cannot be read is left out of the snapshot. If that
// process was tracked, the next Monitor.Poll prunes it and records an exit
// even when the failure was transient; a later readable sample starts it
// again as a new tracked process with fresh peaks.
func (s *SystemProvider) Refresh(ctx context.Context) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handles := make(map[int32]*cachedHandle, len(procs))
	entries := make(map[uint32]Entry, len(procs))
	skipped := 0

	for _, p := range procs {
		created, _ := p.CreateTimeWithContext(ctx)
		h := s.handleFor(p, created)
		entry, ok := sample(ctx, h.proc)
		if !ok {
			skipped++
			continue
		}
		handles[p.Pid] = h
		entries[entry.PID] = entry
	}

	s.handles = handles
	s.entries = entries

	if skipped > 0 {
		log.Debug("process refresh skipped unreadable processes", "skipped", skipped, "total", len(procs))
	}
	return nil
}

// handleFor reuses the cached handle for p unless the PID has been recycled,
// which shows up as a different create time.
func (s *SystemProvider) handleFor(p *process.Process, created int64) *cachedHandle {
	if cached, ok := s.handles[p.Pid]; ok && cached.createTime == created {
		return cached
	}
	return &cachedHandle{proc: p, createTime: created}
}

// sample reads one process. ok is false when the name is unreadable, which
// is how gopsutil reports a process that exited mid-enumeration or one the
// agent may not inspect.
func sample(ctx context.Context, p *process.Process) (Entry, bool) {
	name, err := p.NameWithContext(ctx)
	if err != nil || name == "" {
		return Entry{}, false
	}

	entry := Entry{
		PID:  uint32(p.Pid),
		Name: name,
	}

	if exe, err := p.ExeWithContext(ctx); err == nil {
		entry.Path = exe
	}

	if cpu, err := p.PercentWithContext(ctx, 0); err == nil {
		entry.CPU = cpu
	}

	if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		entry.Memory = memInfo.RSS
	}

	return entry, true
}

// List returns the entries from the last refresh in no particular order.
func (s *SystemProvider) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Lookup returns the entry for pid from the last refresh.
func (s *SystemProvider) Lookup(pid uint32) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[pid]
	return e, ok
}
