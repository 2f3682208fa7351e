package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codingpal/agent/internal/config"
	"github.com/codingpal/agent/internal/health"
	"github.com/codingpal/agent/internal/procmon"
	"github.com/codingpal/agent/internal/store"
	"github.com/codingpal/agent/internal/workspace"
)

type stubProvider struct {
	mu      sync.Mutex
	entries []procmon.Entry
	err     error
}

func (p *stubProvider) set(entries ...procmon.Entry) {
	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()
}

func (p *stubProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubProvider) List() []procmon.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]procmon.Entry(nil), p.entries...)
}

func (p *stubProvider) Lookup(pid uint32) (procmon.Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.PID == pid {
			return e, true
		}
	}
	return procmon.Entry{}, false
}

func newTestApp(t *testing.T, provider *stubProvider, mutate ...func(*config.Config)) (*App, *store.Store) {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	cfg.TaskFolderRoot = filepath.Join(t.TempDir(), workspace.DefaultRoot)
	for _, m := range mutate {
		m(cfg)
	}

	a, err := New(ctx, cfg, WithProvider(provider), WithStore(s))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a, s
}

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
			"usage":   map[string]any{"total_tokens": 17},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPollAndExitHistory(t *testing.T) {
	p := &stubProvider{}
	p.set(
		procmon.Entry{PID: 100, Name: "Cursor", Path: "/opt/cursor", CPU: 12.5, Memory: 400 << 20},
		procmon.Entry{PID: 200, Name: "bash", CPU: 1},
	)
	a, s := newTestApp(t, p)
	ctx := context.Background()

	obs, err := a.PollIDEProcesses(ctx)
	if err != nil {
		t.Fatalf("PollIDEProcesses: %v", err)
	}
	if len(obs) != 1 || obs[0].PID != 100 {
		t.Fatalf("observations = %+v", obs)
	}

	stats, err := a.ProcessStats(ctx)
	if err != nil {
		t.Fatalf("ProcessStats: %v", err)
	}
	if stats.TrackedProcessCount != 1 || stats.TotalMemoryMB != 400 {
		t.Errorf("stats = %+v", stats)
	}

	p.set(procmon.Entry{PID: 200, Name: "bash"})
	if _, err := a.PollIDEProcesses(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(a.TrackedProcesses()) != 0 {
		t.Fatalf("tracked = %+v, want empty", a.TrackedProcesses())
	}

	// Close drains the history pool.
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	history, err := s.ListProcessHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListProcessHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %+v, want one entry", history)
	}
	h := history[0]
	if h.PID != 100 || h.ProcessName != "Cursor" || h.MaxCPUUsage != 12.5 || h.EndTime == nil {
		t.Errorf("history entry = %+v", h)
	}
}

func TestDroppedHistoryDegradesStore(t *testing.T) {
	a, _ := newTestApp(t, &stubProvider{}, func(c *config.Config) {
		c.PoolWorkers = 1
		c.PoolQueueSize = 1
	})

	release := make(chan struct{})
	defer close(release)
	for a.pool.Submit(func(ctx context.Context) { <-release }) {
	}

	a.recordExits([]procmon.ExitRecord{{TrackedProcess: procmon.TrackedProcess{PID: 7, Name: "Cursor"}}})

	c, ok := a.health.Get(health.ComponentStore)
	if !ok || c.Status != health.Degraded {
		t.Fatalf("store check = %+v, want degraded", c)
	}
	if !strings.Contains(c.Message, "writes dropped") {
		t.Errorf("message = %q", c.Message)
	}
}

func TestPollFailureMarksMonitorUnhealthy(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	a, _ := newTestApp(t, p)

	if _, err := a.PollIDEProcesses(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
	report := a.Health(context.Background())
	if report.Status != health.Unhealthy {
		t.Errorf("overall = %s, want unhealthy", report.Status)
	}
}

func TestTrackedNamesFromConfig(t *testing.T) {
	p := &stubProvider{}
	p.set(procmon.Entry{PID: 5, Name: "zed-editor"})
	a, _ := newTestApp(t, p, func(c *config.Config) { c.TrackedNames = []string{"zed"} })

	obs, err := a.PollIDEProcesses(context.Background())
	if err != nil {
		t.Fatalf("PollIDEProcesses: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("observations = %+v, want zed-editor", obs)
	}
}

func TestInitializeOptimizer(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "ok")
	a, s := newTestApp(t, &stubProvider{}, func(c *config.Config) { c.Optimizer.BaseURL = srv.URL })
	ctx := context.Background()

	if _, err := a.InitializeOptimizer(ctx, "  "); !errors.Is(err, ErrEmptyAPIKey) {
		t.Fatalf("empty key err = %v", err)
	}

	ok, err := a.InitializeOptimizer(ctx, "key-123")
	if err != nil || !ok {
		t.Fatalf("InitializeOptimizer = %v, %v", ok, err)
	}
	if !a.OptimizerReady() {
		t.Fatal("optimizer should be installed")
	}
	stored, _, _ := s.GetSetting(ctx, store.SettingAPIKey)
	if stored != "key-123" {
		t.Errorf("stored key = %q", stored)
	}
}

func TestInitializeOptimizerRejectedKey(t *testing.T) {
	srv := completionServer(t, http.StatusUnauthorized, "")
	a, s := newTestApp(t, &stubProvider{}, func(c *config.Config) { c.Optimizer.BaseURL = srv.URL })
	ctx := context.Background()

	ok, err := a.InitializeOptimizer(ctx, "bad")
	if err != nil || ok {
		t.Fatalf("InitializeOptimizer = %v, %v; want false, nil", ok, err)
	}
	if a.OptimizerReady() {
		t.Error("rejected key must not install a client")
	}
	if stored, _, _ := s.GetSetting(ctx, store.SettingAPIKey); stored != "" {
		t.Errorf("rejected key was stored: %q", stored)
	}
}

func TestOptimizePrompt(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "Explain closures in Go with one example.\n- Narrowed scope")
	a, s := newTestApp(t, &stubProvider{}, func(c *config.Config) { c.Optimizer.BaseURL = srv.URL })
	ctx := context.Background()

	if _, err := a.OptimizePrompt(ctx, "explain closures", OptimizationConfig{}); !errors.Is(err, ErrOptimizerNotInitialized) {
		t.Fatalf("err = %v, want ErrOptimizerNotInitialized", err)
	}
	if _, err := a.InitializeOptimizer(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.OptimizePrompt(ctx, " ", OptimizationConfig{}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("err = %v, want ErrEmptyPrompt", err)
	}

	res, err := a.OptimizePrompt(ctx, "explain closures", OptimizationConfig{Model: "glm-4-air", Temperature: 0.3})
	if err != nil {
		t.Fatalf("OptimizePrompt: %v", err)
	}
	if res.ID == "" || res.Confidence != 0.85 || res.TokensUsed != 17 || res.Original != "explain closures" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Improvements) != 1 || res.Improvements[0] != "Narrowed scope" {
		t.Errorf("improvements = %v", res.Improvements)
	}

	history, err := s.ListOptimizations(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].OriginalPrompt != "explain closures" || history[0].TokensUsed != 17 {
		t.Fatalf("history = %+v", history)
	}
}

func TestRestoreOptimizerFromSettings(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.SetSetting(ctx, store.SettingAPIKey, "saved"); err != nil {
		t.Fatal(err)
	}

	a, err := New(ctx, config.Default(), WithProvider(&stubProvider{}), WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	if !a.OptimizerReady() {
		t.Fatal("stored key should restore the optimizer")
	}
}

func TestSetSettingMonitoringIntervalAppliesLive(t *testing.T) {
	a, _ := newTestApp(t, &stubProvider{})
	ctx := context.Background()

	if err := a.SetSetting(ctx, store.SettingMonitoringInterval, "1500"); err != nil {
		t.Fatal(err)
	}
	if got := a.SamplingInterval(); got != 1500*time.Millisecond {
		t.Errorf("SamplingInterval = %v, want 1.5s", got)
	}

	for _, bad := range []string{"soon", "1", "0", "-5", "3600001"} {
		if err := a.SetSetting(ctx, store.SettingMonitoringInterval, bad); !errors.Is(err, ErrInvalidSetting) {
			t.Errorf("SetSetting(%q) err = %v, want ErrInvalidSetting", bad, err)
		}
	}
	if got := a.SamplingInterval(); got != 1500*time.Millisecond {
		t.Errorf("rejected values changed interval to %v", got)
	}

	v, ok, err := a.GetSetting(ctx, store.SettingMonitoringInterval)
	if err != nil || !ok || v != "1500" {
		t.Errorf("GetSetting = %q, %v, %v; want 1500", v, ok, err)
	}
}

func TestStoredMonitoringIntervalSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	first, err := New(ctx, config.Default(), WithProvider(&stubProvider{}), WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	if err := first.SetSetting(ctx, store.SettingMonitoringInterval, "2000"); err != nil {
		t.Fatal(err)
	}
	first.Close(ctx)

	second, err := New(ctx, config.Default(), WithProvider(&stubProvider{}), WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close(ctx)
	if got := second.SamplingInterval(); got != 2*time.Second {
		t.Fatalf("SamplingInterval after restart = %v, want 2s", got)
	}

	// An edited config value wins over the stored setting.
	cfg := config.Default()
	cfg.MonitoringIntervalMs = 3000
	third, err := New(ctx, cfg, WithProvider(&stubProvider{}), WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	defer third.Close(ctx)
	if got := third.SamplingInterval(); got != 3*time.Second {
		t.Fatalf("SamplingInterval after config edit = %v, want 3s", got)
	}
	if v, _, _ := s.GetSetting(ctx, store.SettingMonitoringInterval); v != "3000" {
		t.Errorf("stored interval = %q, want 3000", v)
	}
}

func TestInvalidStoredMonitoringIntervalFallsBackToConfig(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	first, err := New(ctx, config.Default(), WithProvider(&stubProvider{}), WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	first.Close(ctx)
	// Written past SetSetting validation, as an older build could have.
	if err := s.SetSetting(ctx, store.SettingMonitoringInterval, "1"); err != nil {
		t.Fatal(err)
	}

	a, err := New(ctx, config.Default(), WithProvider(&stubProvider{}), WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)
	if got := a.SamplingInterval(); got != config.Default().MonitoringInterval() {
		t.Fatalf("SamplingInterval = %v, want config default", got)
	}
}

func TestCreateTaskFolder(t *testing.T) {
	a, _ := newTestApp(t, &stubProvider{})
	ctx := context.Background()

	path, err := a.CreateTaskFolder(ctx, "refactor-login")
	if err != nil {
		t.Fatalf("CreateTaskFolder: %v", err)
	}
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		t.Fatalf("folder not created at %s: %v", path, err)
	}

	if _, err := a.CreateTaskFolder(ctx, "../escape"); !errors.Is(err, workspace.ErrInvalidFolderName) {
		t.Fatalf("err = %v, want ErrInvalidFolderName", err)
	}

	folders, err := a.TaskFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 || folders[0].Path != path {
		t.Errorf("folders = %+v", folders)
	}
}

func TestApplyConfig(t *testing.T) {
	a, _ := newTestApp(t, &stubProvider{})

	cfg := config.Default()
	cfg.MonitoringIntervalMs = 750
	cfg.Optimizer.Model = "glm-4-flash"
	a.ApplyConfig(cfg)

	if a.SamplingInterval() != 750*time.Millisecond {
		t.Errorf("SamplingInterval = %v", a.SamplingInterval())
	}
	if a.optimizerConfig().Model != "glm-4-flash" {
		t.Errorf("optimizer model = %q", a.optimizerConfig().Model)
	}

	// A reload that leaves monitoring_interval_ms alone keeps a runtime change.
	if err := a.SetSetting(context.Background(), store.SettingMonitoringInterval, "1200"); err != nil {
		t.Fatal(err)
	}
	cfg.Optimizer.Model = "glm-4-air"
	a.ApplyConfig(cfg)
	if a.SamplingInterval() != 1200*time.Millisecond {
		t.Errorf("SamplingInterval after unrelated reload = %v, want 1.2s", a.SamplingInterval())
	}
}

func TestSamplerRunsUntilCanceled(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s := newSampler(5*time.Millisecond, func(context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d polls", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.SetInterval(time.Hour)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
