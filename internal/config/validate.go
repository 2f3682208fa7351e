package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/codingpal/agent/internal/logging"
)

// Bounds for the sampling period, in milliseconds. They also apply to the
// monitoring_interval setting.
const (
	MinMonitoringIntervalMs = 500
	MaxMonitoringIntervalMs = 3600000
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate fixes values that would break the agent and returns a warning for
// each one. Out-of-range numbers are clamped; unknown enums fall back to the
// default. Nothing here prevents startup.
func (c *Config) Validate() []error {
	var errs []error
	def := Default()

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), using %s", c.LogLevel, def.LogLevel))
		c.LogLevel = def.LogLevel
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json), using %s", c.LogFormat, def.LogFormat))
		c.LogFormat = def.LogFormat
	}

	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, fmt.Errorf("database_path is empty, using %s", def.DatabasePath))
		c.DatabasePath = def.DatabasePath
	}

	c.MonitoringIntervalMs = clamp(&errs, "monitoring_interval_ms", c.MonitoringIntervalMs, MinMonitoringIntervalMs, MaxMonitoringIntervalMs)
	c.PoolWorkers = clamp(&errs, "pool_workers", c.PoolWorkers, 1, 16)
	c.PoolQueueSize = clamp(&errs, "pool_queue_size", c.PoolQueueSize, 1, 10000)

	names := c.TrackedNames[:0]
	for _, n := range c.TrackedNames {
		if strings.TrimSpace(n) == "" {
			errs = append(errs, fmt.Errorf("tracked_names contains an empty entry, ignoring it"))
			continue
		}
		names = append(names, n)
	}
	c.TrackedNames = names

	u, err := url.Parse(c.Optimizer.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("optimizer.base_url %q must be an http or https URL, using default", c.Optimizer.BaseURL))
		c.Optimizer.BaseURL = def.Optimizer.BaseURL
	}

	if c.Optimizer.Temperature <= 0 || c.Optimizer.Temperature > 2 {
		errs = append(errs, fmt.Errorf("optimizer.temperature %v outside (0, 2], using %v", c.Optimizer.Temperature, def.Optimizer.Temperature))
		c.Optimizer.Temperature = def.Optimizer.Temperature
	}
	c.Optimizer.MaxTokens = clamp(&errs, "optimizer.max_tokens", c.Optimizer.MaxTokens, 1, 32768)
	c.Optimizer.TimeoutSeconds = clamp(&errs, "optimizer.timeout_seconds", c.Optimizer.TimeoutSeconds, 1, 300)

	for _, err := range errs {
		log.Warn("config validation", logging.KeyError, err)
	}
	return errs
}

func clamp(errs *[]error, key string, v, lo, hi int) int {
	if v < lo {
		*errs = append(*errs, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		*errs = append(*errs, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
