package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/codingpal/agent/internal/logging"
)

var log = logging.L("config")

const (
	configName = "codingpal"
	envPrefix  = "CODINGPAL"
)

type Config struct {
	LogLevel             string          `mapstructure:"log_level" yaml:"log_level"`
	LogFormat            string          `mapstructure:"log_format" yaml:"log_format"`
	LogFile              string          `mapstructure:"log_file" yaml:"log_file"`
	DatabasePath         string          `mapstructure:"database_path" yaml:"database_path"`
	ListenAddr           string          `mapstructure:"listen_addr" yaml:"listen_addr"`
	MonitoringIntervalMs int             `mapstructure:"monitoring_interval_ms" yaml:"monitoring_interval_ms"`
	TrackedNames         []string        `mapstructure:"tracked_names" yaml:"tracked_names"`
	TaskFolderRoot       string          `mapstructure:"task_folder_root" yaml:"task_folder_root"`
	PoolWorkers          int             `mapstructure:"pool_workers" yaml:"pool_workers"`
	PoolQueueSize        int             `mapstructure:"pool_queue_size" yaml:"pool_queue_size"`
	Optimizer            OptimizerConfig `mapstructure:"optimizer" yaml:"optimizer"`
}

type OptimizerConfig struct {
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	Model          string  `mapstructure:"model" yaml:"model"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

func Default() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		DatabasePath:         filepath.Join(configDir(), "codingpal.db"),
		ListenAddr:           "127.0.0.1:7878",
		MonitoringIntervalMs: 5000,
		TaskFolderRoot:       "CodingPal/tasks",
		PoolWorkers:          2,
		PoolQueueSize:        256,
		Optimizer: OptimizerConfig{
			BaseURL:        "https://open.bigmodel.cn/api/paas/v4/chat/completions",
			Model:          "glm-4-plus",
			Temperature:    0.7,
			MaxTokens:      2048,
			TimeoutSeconds: 30,
		},
	}
}

// MonitoringInterval is the sampler period.
func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.MonitoringIntervalMs) * time.Millisecond
}

// OptimizerTimeout is the per-request timeout for the optimization API.
func (c *Config) OptimizerTimeout() time.Duration {
	return time.Duration(c.Optimizer.TimeoutSeconds) * time.Second
}

// Load reads cfgFile, or codingpal.yaml from the config directory or the
// working directory when cfgFile is empty. A missing default file is not an
// error. CODINGPAL_* environment variables override file values, e.g.
// CODINGPAL_LISTEN_ADDR or CODINGPAL_OPTIMIZER_MODEL.
func Load(cfgFile string) (*Config, error) {
	v := newViper(cfgFile)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Watch reloads the config file whenever it changes on disk and hands the
// validated result to onChange. It returns an error when there is no file to
// watch.
func Watch(cfgFile string, onChange func(*Config)) error {
	v := newViper(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := Default()
		if err := v.Unmarshal(cfg); err != nil {
			log.Warn("config reload failed", "file", e.Name, logging.KeyError, err)
			return
		}
		cfg.Validate()
		log.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()

	log.Info("watching config", "file", v.ConfigFileUsed())
	return nil
}

func newViper(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// setDefaults registers every key so AutomaticEnv can resolve it even when
// the file does not mention it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("monitoring_interval_ms", d.MonitoringIntervalMs)
	v.SetDefault("tracked_names", d.TrackedNames)
	v.SetDefault("task_folder_root", d.TaskFolderRoot)
	v.SetDefault("pool_workers", d.PoolWorkers)
	v.SetDefault("pool_queue_size", d.PoolQueueSize)
	v.SetDefault("optimizer.base_url", d.Optimizer.BaseURL)
	v.SetDefault("optimizer.model", d.Optimizer.Model)
	v.SetDefault("optimizer.temperature", d.Optimizer.Temperature)
	v.SetDefault("optimizer.max_tokens", d.Optimizer.MaxTokens)
	v.SetDefault("optimizer.timeout_seconds", d.Optimizer.TimeoutSeconds)
}

// SaveTo writes cfg as YAML to cfgFile, or to the default location when
// cfgFile is empty, and returns the path written.
func SaveTo(cfg *Config, cfgFile string) (string, error) {
	path := cfgFile
	if path == "" {
		path = filepath.Join(configDir(), configName+".yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	data, err := cfg.YAML()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

// YAML renders the config in the on-disk format.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "CodingPal")
	}
	return ".codingpal"
}
