package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/codingpal/agent/internal/procmon"
	"github.com/codingpal/agent/internal/store"
)

func TestRenderObservations(t *testing.T) {
	var buf bytes.Buffer
	renderObservations(&buf, []procmon.Observation{
		{PID: 4242, Name: "Cursor", CPUUsage: 12.34, MemoryUsage: 512 << 20, Path: "/opt/cursor"},
	})

	out := buf.String()
	for _, want := range []string{"4242", "Cursor", "12.3%", "512 MiB", "/opt/cursor"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderObservationsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderObservations(&buf, nil)
	if !strings.Contains(buf.String(), "No IDE processes") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRenderProcessHistory(t *testing.T) {
	start := time.Now().Add(-2 * time.Hour)
	end := start.Add(90 * time.Minute)

	var buf bytes.Buffer
	renderProcessHistory(&buf, []store.ProcessHistory{
		{PID: 7, ProcessName: "code", StartTime: start, EndTime: &end, MaxCPUUsage: 50, MaxMemoryUsage: 1 << 30},
		{PID: 8, ProcessName: "idea", StartTime: start},
	})

	out := buf.String()
	for _, want := range []string{"code", "1h30m0s", "1.0 GiB", "idea"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("line one\nline two", 8); got != "line on…" {
		t.Errorf("truncate = %q", got)
	}
}

type sampleCall struct {
	op string
	at time.Time
}

type recordingSampler struct {
	calls []sampleCall
}

func (r *recordingSampler) PollIDEProcesses(ctx context.Context) ([]procmon.Observation, error) {
	r.calls = append(r.calls, sampleCall{"poll", time.Now()})
	return []procmon.Observation{{PID: 1, Name: "Cursor"}}, nil
}

func (r *recordingSampler) ProcessStats(ctx context.Context) (procmon.Stats, error) {
	r.calls = append(r.calls, sampleCall{"stats", time.Now()})
	return procmon.Stats{TrackedProcessCount: 1}, nil
}

func (r *recordingSampler) ops() string {
	var ops []string
	for _, c := range r.calls {
		ops = append(ops, c.op)
	}
	return strings.Join(ops, ",")
}

func withWarmup(t *testing.T, d time.Duration) {
	t.Helper()
	prev := cpuWarmup
	cpuWarmup = d
	t.Cleanup(func() { cpuWarmup = prev })
}

func TestWarmStatsRefreshesOnceAfterWarmup(t *testing.T) {
	withWarmup(t, 20*time.Millisecond)
	r := &recordingSampler{}

	stats, err := warmStats(context.Background(), r)
	if err != nil {
		t.Fatalf("warmStats: %v", err)
	}
	if stats.TrackedProcessCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if got := r.ops(); got != "poll,stats" {
		t.Fatalf("calls = %s, want poll,stats", got)
	}
	if gap := r.calls[1].at.Sub(r.calls[0].at); gap < cpuWarmup {
		t.Errorf("stats sampled %v after the priming poll, want >= %v", gap, cpuWarmup)
	}
}

func TestWarmPollSamplesTwice(t *testing.T) {
	withWarmup(t, 10*time.Millisecond)
	r := &recordingSampler{}

	obs, err := warmPoll(context.Background(), r)
	if err != nil {
		t.Fatalf("warmPoll: %v", err)
	}
	if len(obs) != 1 || r.ops() != "poll,poll" {
		t.Fatalf("obs = %+v calls = %s", obs, r.ops())
	}
}

func TestWarmStatsCanceledDuringWarmup(t *testing.T) {
	withWarmup(t, time.Hour)
	r := &recordingSampler{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := warmStats(ctx, r); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if got := r.ops(); got != "poll" {
		t.Errorf("calls = %s, want poll only", got)
	}
}

type readiness bool

func (r readiness) OptimizerReady() bool { return bool(r) }

func TestRequireOptimizer(t *testing.T) {
	if err := requireOptimizer(readiness(true)); err != nil {
		t.Fatalf("ready: %v", err)
	}
	err := requireOptimizer(readiness(false))
	if err == nil || !strings.Contains(err.Error(), "optimize init") {
		t.Fatalf("err = %v, want hint to run optimize init", err)
	}
}
