package procmon

import (
	"context"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v3/process"
)

func TestSystemProviderSeesSelf(t *testing.T) {
	sp := NewSystemProvider()
	if err := sp.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(sp.List()) == 0 {
		t.Fatal("snapshot should contain at least one process")
	}

	self := uint32(os.Getpid())
	e, ok := sp.Lookup(self)
	if !ok {
		t.Fatalf("own pid %d not found", self)
	}
	if e.Name == "" {
		t.Fatal("own process name should be readable")
	}
	if e.Memory == 0 {
		t.Fatal("own resident memory should be non-zero")
	}
}

func TestSystemProviderReusesHandles(t *testing.T) {
	sp := NewSystemProvider()
	ctx := context.Background()
	if err := sp.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	self := int32(os.Getpid())
	first := sp.handles[self]
	if first == nil {
		t.Fatal("no cached handle for own pid")
	}

	if err := sp.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if sp.handles[self] != first {
		t.Fatal("handle for a live process should be reused across refreshes")
	}
}

func TestHandleForReplacesRecycledPID(t *testing.T) {
	sp := NewSystemProvider()
	old := &process.Process{Pid: 4242}
	sp.handles[4242] = &cachedHandle{proc: old, createTime: 1000}

	same := sp.handleFor(&process.Process{Pid: 4242}, 1000)
	if same.proc != old {
		t.Fatal("matching create time should keep the cached handle")
	}

	fresh := &process.Process{Pid: 4242}
	h := sp.handleFor(fresh, 2000)
	if h.proc != fresh || h.createTime != 2000 {
		t.Fatalf("recycled pid kept stale handle: %+v", h)
	}

	unseen := &process.Process{Pid: 7}
	if h := sp.handleFor(unseen, 5); h.proc != unseen {
		t.Fatal("unknown pid should get a new handle")
	}
}

func TestSystemProviderLookupMissing(t *testing.T) {
	sp := NewSystemProvider()
	if _, ok := sp.Lookup(1 << 30); ok {
		t.Fatal("lookup before refresh should miss")
	}
}
