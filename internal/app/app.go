package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codingpal/agent/internal/config"
	"github.com/codingpal/agent/internal/health"
	"github.com/codingpal/agent/internal/logging"
	"github.com/codingpal/agent/internal/optimizer"
	"github.com/codingpal/agent/internal/procmon"
	"github.com/codingpal/agent/internal/store"
	"github.com/codingpal/agent/internal/workerpool"
	"github.com/codingpal/agent/internal/workspace"
)

var log = logging.L("app")

var (
	ErrOptimizerNotInitialized = errors.New("optimizer not initialized")
	ErrEmptyAPIKey             = errors.New("api key must not be empty")
	ErrEmptyPrompt             = errors.New("prompt must not be empty")
	ErrInvalidSetting          = errors.New("invalid setting value")
)

// configIntervalKey records the monitoring_interval_ms last taken from the
// config file, so a config edit made while stopped wins over the stored
// setting at the next start.
const configIntervalKey = "monitoring_interval_config"

// optimizationConfidence is the fixed confidence reported for every result.
const optimizationConfidence = 0.85

// OptimizationConfig overrides the completion parameters for one request.
// Zero values keep the configured defaults.
type OptimizationConfig struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
	Model       string  `json:"model"`
}

// OptimizedPrompt is the result of one optimization request.
type OptimizedPrompt struct {
	ID           string   `json:"id"`
	Original     string   `json:"original"`
	Optimized    string   `json:"optimized"`
	Improvements []string `json:"improvements"`
	Confidence   float64  `json:"confidence"`
	TokensUsed   int      `json:"tokensUsed"`
}

// App owns the agent's services. It is built once and shared by the HTTP
// API and the CLI.
type App struct {
	monitor   *procmon.Monitor
	store     *store.Store
	ownsStore bool
	pool      *workerpool.Pool
	health    *health.Monitor
	workspace *workspace.Workspace
	sampler   *Sampler

	mu               sync.RWMutex
	optimizer        *optimizer.Client
	optimizerCfg     optimizer.Config
	configIntervalMs int
}

// Option configures an App.
type Option func(*options)

type options struct {
	provider procmon.SnapshotProvider
	store    *store.Store
}

// WithProvider replaces the OS process table, for tests.
func WithProvider(p procmon.SnapshotProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithStore uses an already opened store. The App does not close it.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// New opens the store and wires the monitor, history pool and optimizer from
// cfg. A stored API key is restored into the optimizer without probing it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.provider == nil {
		o.provider = procmon.NewSystemProvider()
	}

	a := &App{
		store:     o.store,
		health:    health.NewMonitor(),
		workspace: workspace.New(cfg.TaskFolderRoot),
		optimizerCfg: optimizer.Config{
			BaseURL:     cfg.Optimizer.BaseURL,
			Model:       cfg.Optimizer.Model,
			Temperature: cfg.Optimizer.Temperature,
			MaxTokens:   cfg.Optimizer.MaxTokens,
			Timeout:     cfg.OptimizerTimeout(),
		},
	}

	if a.store == nil {
		s, err := store.Open(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = s
		a.ownsStore = true
	}
	a.health.Update(health.ComponentStore, health.Healthy, "")

	a.pool = workerpool.New("history", cfg.PoolWorkers, cfg.PoolQueueSize)
	classifier := procmon.NewClassifier(cfg.TrackedNames...)
	a.monitor = procmon.New(o.provider,
		procmon.WithClassifier(classifier),
		procmon.WithExitHandler(a.recordExits),
	)
	log.Debug("tracking process names", "targets", classifier.Targets())

	a.sampler = newSampler(a.startupInterval(ctx, cfg), func(ctx context.Context) {
		a.PollIDEProcesses(ctx)
	})

	a.restoreOptimizer(ctx)
	return a, nil
}

// startupInterval picks the initial sampling period. A monitoring_interval_ms
// that differs from the one seen at the previous start is applied and
// persisted; otherwise a valid stored monitoring_interval setting wins.
func (a *App) startupInterval(ctx context.Context, cfg *config.Config) time.Duration {
	a.configIntervalMs = cfg.MonitoringIntervalMs
	fromConfig := cfg.MonitoringInterval()

	last, ok, err := a.store.GetSetting(ctx, configIntervalKey)
	if err != nil {
		log.Warn("failed to read monitoring interval marker", logging.KeyError, err)
		return fromConfig
	}
	if !ok || last != strconv.Itoa(cfg.MonitoringIntervalMs) {
		a.persistConfigInterval(ctx, cfg.MonitoringIntervalMs)
		return fromConfig
	}

	value, ok, err := a.store.GetSetting(ctx, store.SettingMonitoringInterval)
	if err != nil || !ok {
		return fromConfig
	}
	d, err := parseMonitoringInterval(value)
	if err != nil {
		log.Warn("ignoring stored monitoring interval", logging.KeyError, err)
		return fromConfig
	}
	return d
}

func (a *App) persistConfigInterval(ctx context.Context, ms int) {
	v := strconv.Itoa(ms)
	for _, key := range []string{store.SettingMonitoringInterval, configIntervalKey} {
		if err := a.store.SetSetting(ctx, key, v); err != nil {
			log.Warn("failed to persist monitoring interval", "key", key, logging.KeyError, err)
		}
	}
}

// parseMonitoringInterval accepts whole milliseconds within the config bounds.
func parseMonitoringInterval(value string) (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a whole number of milliseconds", ErrInvalidSetting, store.SettingMonitoringInterval, value)
	}
	if ms < config.MinMonitoringIntervalMs || ms > config.MaxMonitoringIntervalMs {
		return 0, fmt.Errorf("%w: %s %d is outside %d..%d ms", ErrInvalidSetting, store.SettingMonitoringInterval,
			ms, config.MinMonitoringIntervalMs, config.MaxMonitoringIntervalMs)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (a *App) restoreOptimizer(ctx context.Context) {
	key, ok, err := a.store.GetSetting(ctx, store.SettingAPIKey)
	if err != nil {
		log.Warn("failed to read stored api key", logging.KeyError, err)
		return
	}
	if !ok || key == "" {
		return
	}

	cfg := a.optimizerConfig()
	cfg.APIKey = key
	a.setOptimizer(optimizer.NewClient(cfg))
	a.health.Update(health.ComponentOptimizer, health.Healthy, "restored from settings")
	log.Info("optimizer restored from stored api key")
}

// Run samples the process table until ctx is done.
func (a *App) Run(ctx context.Context) {
	log.Info("sampler started", "intervalMs", a.sampler.Interval().Milliseconds())
	a.sampler.Run(ctx)
	log.Info("sampler stopped")
}

// ApplyConfig applies the settings that can change while running. The
// sampling period only follows the config when monitoring_interval_ms itself
// changed, so a reload does not undo a monitoring_interval set at runtime.
func (a *App) ApplyConfig(cfg *config.Config) {
	logging.SetLevel(cfg.LogLevel)

	a.mu.Lock()
	intervalChanged := cfg.MonitoringIntervalMs != a.configIntervalMs
	a.configIntervalMs = cfg.MonitoringIntervalMs
	a.optimizerCfg.BaseURL = cfg.Optimizer.BaseURL
	a.optimizerCfg.Model = cfg.Optimizer.Model
	a.optimizerCfg.Temperature = cfg.Optimizer.Temperature
	a.optimizerCfg.MaxTokens = cfg.Optimizer.MaxTokens
	a.optimizerCfg.Timeout = cfg.OptimizerTimeout()
	a.mu.Unlock()

	if intervalChanged {
		a.sampler.SetInterval(cfg.MonitoringInterval())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.persistConfigInterval(ctx, cfg.MonitoringIntervalMs)
	}
}

// SamplingInterval returns the current sampler period.
func (a *App) SamplingInterval() time.Duration {
	return a.sampler.Interval()
}

// Close drains pending history writes and closes the store if the App
// opened it.
func (a *App) Close(ctx context.Context) error {
	a.pool.Shutdown(ctx)
	if a.ownsStore {
		return a.store.Close()
	}
	return nil
}

// Processes

// PollIDEProcesses samples the process table and returns the tracked IDE
// processes that are running.
func (a *App) PollIDEProcesses(ctx context.Context) ([]procmon.Observation, error) {
	obs, err := a.monitor.Poll(ctx)
	if err != nil {
		a.health.Update(health.ComponentMonitor, health.Unhealthy, err.Error())
		return nil, err
	}
	a.health.Update(health.ComponentMonitor, health.Healthy, "")
	return obs, nil
}

func (a *App) ProcessStats(ctx context.Context) (procmon.Stats, error) {
	return a.monitor.Stats(ctx)
}

func (a *App) TrackedProcesses() []procmon.TrackedProcess {
	return a.monitor.Tracked()
}

func (a *App) ProcessHistory(ctx context.Context, limit int) ([]store.ProcessHistory, error) {
	return a.store.ListProcessHistory(ctx, limit)
}

// recordExits queues a history row for each pruned process. It runs on the
// polling goroutine, so the insert happens on the pool.
func (a *App) recordExits(exited []procmon.ExitRecord) {
	for _, e := range exited {
		end := e.ExitedAt
		h := &store.ProcessHistory{
			ProcessName:    e.Name,
			PID:            e.PID,
			Path:           e.Path,
			StartTime:      e.FirstSeen,
			EndTime:        &end,
			MaxCPUUsage:    e.PeakCPU,
			MaxMemoryUsage: e.PeakMemory,
		}
		ok := a.pool.Submit(func(ctx context.Context) {
			if _, err := a.store.SaveProcessHistory(ctx, h); err != nil {
				log.Warn("failed to save process history", logging.KeyPID, h.PID, logging.KeyError, err)
				a.health.Update(health.ComponentStore, health.Degraded, err.Error())
			}
		})
		if !ok {
			dropped := a.pool.Rejected()
			log.Warn("process history dropped", logging.KeyPID, e.PID, "name", e.Name, "queueFullDrops", dropped)
			if dropped > 0 {
				a.health.Update(health.ComponentStore, health.Degraded,
					fmt.Sprintf("history queue full, %d writes dropped", dropped))
			}
		}
	}
}

// Optimizer

// InitializeOptimizer tests the API with apiKey. On success the client is
// installed and the key stored; it reports false when the API rejects it.
func (a *App) InitializeOptimizer(ctx context.Context, apiKey string) (bool, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return false, ErrEmptyAPIKey
	}

	cfg := a.optimizerConfig()
	cfg.APIKey = apiKey
	client := optimizer.NewClient(cfg)

	ok, err := client.TestConnection(ctx)
	if err != nil {
		a.health.Update(health.ComponentOptimizer, health.Unhealthy, err.Error())
		return false, err
	}
	if !ok {
		a.health.Update(health.ComponentOptimizer, health.Degraded, "api key rejected")
		return false, nil
	}

	a.setOptimizer(client)
	a.health.Update(health.ComponentOptimizer, health.Healthy, "")

	if err := a.store.SetSetting(ctx, store.SettingAPIKey, apiKey); err != nil {
		log.Warn("failed to store api key", logging.KeyError, err)
	}
	return true, nil
}

// OptimizePrompt rewrites prompt with the installed client and appends the
// result to the optimization history. A failed history write is logged and
// does not fail the request.
func (a *App) OptimizePrompt(ctx context.Context, prompt string, oc OptimizationConfig) (*OptimizedPrompt, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	a.mu.RLock()
	client := a.optimizer
	a.mu.RUnlock()
	if client == nil {
		return nil, ErrOptimizerNotInitialized
	}
	client = client.WithParams(oc.Model, oc.Temperature, oc.MaxTokens)

	start := time.Now()
	res, err := client.Optimize(ctx, prompt)
	if err != nil {
		a.health.Update(health.ComponentOptimizer, health.Degraded, err.Error())
		return nil, err
	}
	elapsed := time.Since(start)
	a.health.Update(health.ComponentOptimizer, health.Healthy, "")

	out := &OptimizedPrompt{
		ID:           uuid.NewString(),
		Original:     prompt,
		Optimized:    res.Text,
		Improvements: res.Improvements,
		Confidence:   optimizationConfidence,
		TokensUsed:   res.TokenCount,
	}

	rec := &store.OptimizationRecord{
		OriginalPrompt:   prompt,
		OptimizedPrompt:  res.Text,
		Confidence:       optimizationConfidence,
		TokensUsed:       res.TokenCount,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	if _, err := a.store.SaveOptimization(ctx, rec); err != nil {
		log.Warn("failed to save optimization history", logging.KeyError, err)
	}

	log.Info("prompt optimized",
		"id", out.ID,
		"model", client.Config().Model,
		"tokens", out.TokensUsed,
		logging.KeyDurationMs, elapsed.Milliseconds(),
	)
	return out, nil
}

func (a *App) OptimizationHistory(ctx context.Context, limit int) ([]store.OptimizationRecord, error) {
	return a.store.ListOptimizations(ctx, limit)
}

// OptimizerReady reports whether a client is installed.
func (a *App) OptimizerReady() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.optimizer != nil
}

func (a *App) optimizerConfig() optimizer.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.optimizerCfg
}

func (a *App) setOptimizer(c *optimizer.Client) {
	a.mu.Lock()
	a.optimizer = c
	a.mu.Unlock()
}

// Settings

func (a *App) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return a.store.GetSetting(ctx, key)
}

func (a *App) ListSettings(ctx context.Context) ([]store.Setting, error) {
	return a.store.ListSettings(ctx)
}

// SetSetting stores value under key. A monitoring_interval must be whole
// milliseconds within the config bounds; it is also applied to the running
// sampler. An invalid one returns ErrInvalidSetting and is not stored.
func (a *App) SetSetting(ctx context.Context, key, value string) error {
	if key != store.SettingMonitoringInterval {
		return a.store.SetSetting(ctx, key, value)
	}

	d, err := parseMonitoringInterval(value)
	if err != nil {
		return err
	}
	if err := a.store.SetSetting(ctx, key, strconv.FormatInt(d.Milliseconds(), 10)); err != nil {
		return err
	}
	a.sampler.SetInterval(d)
	return nil
}

// Task folders

// CreateTaskFolder creates a folder under the task root and records it.
func (a *App) CreateTaskFolder(ctx context.Context, name string) (string, error) {
	path, err := a.workspace.CreateFolder(name)
	if err != nil {
		return "", err
	}
	if _, err := a.store.SaveTaskFolder(ctx, name, path); err != nil {
		return "", err
	}
	log.Info("task folder created", "path", path)
	return path, nil
}

func (a *App) TaskFolders(ctx context.Context) ([]store.TaskFolder, error) {
	return a.store.ListTaskFolders(ctx)
}

// Health returns the latest component checks after pinging the store.
func (a *App) Health(ctx context.Context) health.Report {
	if err := a.store.Ping(ctx); err != nil {
		a.health.Update(health.ComponentStore, health.Unhealthy, err.Error())
	} else if c, ok := a.health.Get(health.ComponentStore); ok && c.Status == health.Unhealthy {
		a.health.Update(health.ComponentStore, health.Healthy, "")
	}
	return a.health.Report()
}
