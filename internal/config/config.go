package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Swind/go-localset/core"
)

// Config represents the complete localset CLI configuration
type Config struct {
	LocalSet LocalSetConfig `mapstructure:"localset"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Workload WorkloadConfig `mapstructure:"workload"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LocalSetConfig controls the LocalSet driven by the CLI
type LocalSetConfig struct {
	// Name labels the set in logs and metrics
	Name string `mapstructure:"name"`
	// MaxTasksPerTick bounds how many tasks one tick polls (default: 61)
	MaxTasksPerTick int `mapstructure:"max_tasks_per_tick"`
	// WaitForWake re-polls the main future only when local work is queued or it was woken
	WaitForWake bool `mapstructure:"wait_for_wake"`
	// HistoryCapacity is how many tick records are kept
	HistoryCapacity int `mapstructure:"history_capacity"`
}

// RuntimeConfig controls the host runtime
type RuntimeConfig struct {
	// Host selects the host runtime.
	// Options: "current_thread", "multi_thread"
	Host string `mapstructure:"host"`
	// Workers is the worker count of the multi_thread host
	Workers int `mapstructure:"workers"`
}

// WorkloadConfig controls what `localset run` spawns
type WorkloadConfig struct {
	// Batches is how many BlockOn calls are made on the same set
	Batches int `mapstructure:"batches"`
	// Tasks is how many local tasks each batch spawns
	Tasks int `mapstructure:"tasks"`
	// Depth is how many nested SpawnLocal levels each task spawns
	Depth int `mapstructure:"depth"`
	// SleepMs makes every leaf task sleep on the host runtime (0 = no sleep)
	SleepMs int `mapstructure:"sleep_ms"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is the minimum level written to stderr
	// Options: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Enabled serves /metrics while the workload runs
	Enabled bool `mapstructure:"enabled"`
	// Addr is the listen address of the metrics server
	Addr string `mapstructure:"addr"`
	// PollIntervalMs is how often Stats() snapshots are exported
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// Host runtime names
const (
	HostCurrentThread = "current_thread"
	HostMultiThread   = "multi_thread"
)

// Default returns the default configuration
func Default() *Config {
	return &Config{
		LocalSet: LocalSetConfig{
			Name:            "cli",
			MaxTasksPerTick: core.DefaultMaxTasksPerTick,
			WaitForWake:     false,
			HistoryCapacity: 100,
		},
		Runtime: RuntimeConfig{
			Host:    HostCurrentThread,
			Workers: 4,
		},
		Workload: WorkloadConfig{
			Batches: 3,
			Tasks:   100,
			Depth:   2,
			SleepMs: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			Addr:           ":9090",
			PollIntervalMs: 500,
		},
	}
}

// PollInterval returns the snapshot poll interval as a Duration
func (c *MetricsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Sleep returns the per-leaf sleep as a Duration
func (c *WorkloadConfig) Sleep() time.Duration {
	return time.Duration(c.SleepMs) * time.Millisecond
}

// ToCore builds the library configuration for the LocalSet.
func (c *LocalSetConfig) ToCore() *core.LocalSetConfig {
	cfg := core.DefaultLocalSetConfig()
	cfg.Name = c.Name
	cfg.MaxTasksPerTick = c.MaxTasksPerTick
	cfg.WaitForWake = c.WaitForWake
	cfg.HistoryCapacity = c.HistoryCapacity
	return cfg
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("localset.name", defaults.LocalSet.Name)
	viper.SetDefault("localset.max_tasks_per_tick", defaults.LocalSet.MaxTasksPerTick)
	viper.SetDefault("localset.wait_for_wake", defaults.LocalSet.WaitForWake)
	viper.SetDefault("localset.history_capacity", defaults.LocalSet.HistoryCapacity)

	viper.SetDefault("runtime.host", defaults.Runtime.Host)
	viper.SetDefault("runtime.workers", defaults.Runtime.Workers)

	viper.SetDefault("workload.batches", defaults.Workload.Batches)
	viper.SetDefault("workload.tasks", defaults.Workload.Tasks)
	viper.SetDefault("workload.depth", defaults.Workload.Depth)
	viper.SetDefault("workload.sleep_ms", defaults.Workload.SleepMs)

	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
	viper.SetDefault("metrics.poll_interval_ms", defaults.Metrics.PollIntervalMs)
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "localset")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".localset"
	}
	return filepath.Join(home, ".config", "localset")
}
