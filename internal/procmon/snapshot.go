package procmon

import "context"

// Entry is one process as seen by the most recent refresh.
type Entry struct {
	PID    uint32
	Name   string
	Path   string  // empty when the executable could not be resolved
	CPU    float64 // percent of one core; exceeds 100 on multi-core load
	Memory uint64  // resident bytes
}

// SnapshotProvider is a read-only view of the OS process table.
//
// Refresh re-reads the table and may block on OS calls. List and Lookup
// answer from the last successful Refresh. Processes that vanish or cannot be
// inspected are omitted rather than reported as errors; Refresh only fails
// when the table itself cannot be read.
type SnapshotProvider interface {
	Refresh(ctx context.Context) error
	List() []Entry
	Lookup(pid uint32) (Entry, bool)
}
