package config

import "testing"

func TestValidateDefaultsAreClean(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Fatalf("Default().Validate() = %v", errs)
	}
}

func TestValidateClampsIntervals(t *testing.T) {
	cfg := Default()
	cfg.MonitoringIntervalMs = 10
	cfg.PoolWorkers = 0
	cfg.PoolQueueSize = 1 << 20
	cfg.Optimizer.TimeoutSeconds = 0

	errs := cfg.Validate()
	if len(errs) != 4 {
		t.Fatalf("len(errs) = %d, want 4: %v", len(errs), errs)
	}
	if cfg.MonitoringIntervalMs != 500 {
		t.Errorf("MonitoringIntervalMs = %d, want 500", cfg.MonitoringIntervalMs)
	}
	if cfg.PoolWorkers != 1 || cfg.PoolQueueSize != 10000 {
		t.Errorf("pool = %d/%d", cfg.PoolWorkers, cfg.PoolQueueSize)
	}
	if cfg.Optimizer.TimeoutSeconds != 1 {
		t.Errorf("TimeoutSeconds = %d", cfg.Optimizer.TimeoutSeconds)
	}
}

func TestValidateResetsInvalidEnums(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"
	cfg.Optimizer.BaseURL = "ftp://example.com"
	cfg.Optimizer.Temperature = 5

	if errs := cfg.Validate(); len(errs) != 4 {
		t.Fatalf("len(errs) = %d, want 4: %v", len(errs), errs)
	}
	def := Default()
	if cfg.LogLevel != def.LogLevel || cfg.LogFormat != def.LogFormat {
		t.Errorf("log settings = %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Optimizer.BaseURL != def.Optimizer.BaseURL || cfg.Optimizer.Temperature != def.Optimizer.Temperature {
		t.Errorf("optimizer = %+v", cfg.Optimizer)
	}
}

func TestValidateDropsBlankTrackedNames(t *testing.T) {
	cfg := Default()
	cfg.TrackedNames = []string{"zed", "  ", "fleet"}

	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if len(cfg.TrackedNames) != 2 || cfg.TrackedNames[1] != "fleet" {
		t.Errorf("TrackedNames = %v", cfg.TrackedNames)
	}
}
