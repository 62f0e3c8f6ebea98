// Package config loads and parses the YAML configuration file that drives a
// supervised script, the way mooyang-code-data-collector's
// internal/config/config.go and ChuLiYu-raft-recovery's internal/cli/cli.go
// load their own YAML configs with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of an eirenewatch script's YAML document.
type Config struct {
	Watch   WatchConfig   `yaml:"watch"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Task    TaskConfig    `yaml:"task"`
	Items   []Item        `yaml:"items"`
}

// WatchConfig tunes the debounced file-watching backend.
type WatchConfig struct {
	WaitMS int `yaml:"wait_ms"`
}

// RetryConfig is the default retry policy applied to every slot's task,
// mirroring spec.md §3's TaskTemplate.retry shape.
type RetryConfig struct {
	Retries    int     `yaml:"retries"`
	Factor     float64 `yaml:"factor"`
	MinTimeout int     `yaml:"min_timeout_ms"`
	MaxTimeout int     `yaml:"max_timeout_ms"`
}

// LoggingConfig selects the logger's level and encoding, the same two knobs
// mooyang-code-data-collector's LoggingConfig exposes.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig optionally enables the Prometheus HTTP endpoint, mirroring
// the "Metrics HTTP service (if enabled)" section of
// ChuLiYu-raft-recovery's internal/cli/cli.go.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// TaskConfig carries the per-template flags spec.md §3 lists under "Flags",
// plus the command line the default script runner launches per slot.
// InitialRun and Interruptible are pointers so that an absent YAML key is
// distinguishable from an explicit false: both default to true per spec.md
// §3, and only an explicit `false` should override that.
type TaskConfig struct {
	InitialRun     *bool    `yaml:"initial_run"`
	Interruptible  *bool    `yaml:"interruptible"`
	Persistent     bool     `yaml:"persistent"`
	CWD            string   `yaml:"cwd"`
	ThrottleLines  int      `yaml:"throttle_lines"`
	ThrottleWindow int      `yaml:"throttle_window_ms"`
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
}

// InitialRunOrDefault resolves InitialRun, defaulting to true when unset.
func (t TaskConfig) InitialRunOrDefault() bool {
	if t.InitialRun == nil {
		return true
	}
	return *t.InitialRun
}

// InterruptibleOrDefault resolves Interruptible, defaulting to true when
// unset.
func (t TaskConfig) InterruptibleOrDefault() bool {
	if t.Interruptible == nil {
		return true
	}
	return *t.Interruptible
}

// Item is one entry of the user-defined data vector the supervisor derives
// slots from (spec.md §6's parseProcessData).
type Item struct {
	Name string         `yaml:"name"`
	Data map[string]any `yaml:"data"`
}

// Load reads path as UTF-8 and parses it into a Config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse unmarshals raw YAML into a Config, applying the documented defaults
// for any zero-valued retry/watch field.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Watch.WaitMS <= 0 {
		c.Watch.WaitMS = 300
	}
	if c.Retry.Factor < 1 {
		c.Retry.Factor = 2
	}
	if c.Retry.MinTimeout <= 0 {
		c.Retry.MinTimeout = 1000
	}
	if c.Retry.MaxTimeout <= 0 {
		c.Retry.MaxTimeout = 30000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// DebounceWait returns the watcher's debounce interval as a Duration.
func (c *Config) DebounceWait() time.Duration {
	return time.Duration(c.Watch.WaitMS) * time.Millisecond
}

// ParseProcessData derives the per-slot data vector from the config's
// Items, the way spec.md §6 describes parseProcessData(config) -> Data[].
func ParseProcessData(c *Config) []any {
	data := make([]any, len(c.Items))
	for i, item := range c.Items {
		data[i] = item
	}
	return data
}
