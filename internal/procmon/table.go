package procmon

import (
	"sort"
	"time"
)

// TrackedProcess is the accumulated state for one IDE process since it was
// first seen. Name, Path and FirstSeen never change after insertion; the
// peaks only grow.
type TrackedProcess struct {
	PID        uint32    `json:"pid"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	FirstSeen  time.Time `json:"firstSeen"`
	PeakCPU    float64   `json:"peakCpu"`
	PeakMemory uint64    `json:"peakMemory"`
}

// ExitRecord describes a tracked process that was pruned because its PID
// disappeared from the process table.
type ExitRecord struct {
	TrackedProcess
	ExitedAt time.Time `json:"exitedAt"`
}

// table maps PID to tracked state. It has no locking of its own; the Monitor
// serializes every access.
type table map[uint32]*TrackedProcess

// observe inserts pid or folds the sample into its peaks.
func (t table) observe(e Entry, now time.Time) {
	if tp, ok := t[e.PID]; ok {
		if e.CPU > tp.PeakCPU {
			tp.PeakCPU = e.CPU
		}
		if e.Memory > tp.PeakMemory {
			tp.PeakMemory = e.Memory
		}
		return
	}

	t[e.PID] = &TrackedProcess{
		PID:        e.PID,
		Name:       e.Name,
		Path:       e.Path,
		FirstSeen:  now,
		PeakCPU:    e.CPU,
		PeakMemory: e.Memory,
	}
}

// prune deletes every entry whose PID is not in present and returns them.
func (t table) prune(present map[uint32]struct{}, now time.Time) []ExitRecord {
	var exited []ExitRecord
	for pid, tp := range t {
		if _, ok := present[pid]; ok {
			continue
		}
		exited = append(exited, ExitRecord{TrackedProcess: *tp, ExitedAt: now})
		delete(t, pid)
	}
	sort.Slice(exited, func(i, j int) bool { return exited[i].PID < exited[j].PID })
	return exited
}

// snapshot copies the table, sorted by PID.
func (t table) snapshot() []TrackedProcess {
	out := make([]TrackedProcess, 0, len(t))
	for _, tp := range t {
		out = append(out, *tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
