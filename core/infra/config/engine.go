package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// EngineConfig tunes the execution engine and scheduler.
type EngineConfig struct {
	Retry     RetryConfig     `yaml:"retry"`
	Loops     LoopConfig      `yaml:"loops"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Nodes     NodeConfig      `yaml:"nodes"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Templates TemplateConfig  `yaml:"templates"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

type LoopConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	DefaultCount  int `yaml:"default_count"`
}

type SchedulerConfig struct {
	Disabled        bool          `yaml:"disabled"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type NodeConfig struct {
	// EnforceTimeouts cancels integration calls that exceed the node's
	// timeout. Off by default; the timeout is otherwise advisory.
	EnforceTimeouts bool `yaml:"enforce_timeouts"`
}

type RecoveryConfig struct {
	FailOrphaned bool `yaml:"fail_orphaned"`
}

type TemplateConfig struct {
	Seed bool `yaml:"seed"`
}

// DefaultEngineConfig returns the built-in tuning.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Retry:     RetryConfig{MaxRetries: 3, Backoff: time.Second},
		Loops:     LoopConfig{MaxIterations: 100, DefaultCount: 5},
		Scheduler: SchedulerConfig{TickInterval: time.Minute, ShutdownTimeout: 30 * time.Second},
	}
}

// LoadEngineConfig loads a YAML engine config file; returns defaults if the
// path is empty. A read or parse failure returns defaults with the error.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	if path == "" {
		return DefaultEngineConfig(), nil
	}
	// #nosec G304 -- engine config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultEngineConfig(), fmt.Errorf("read engine config: %w", err)
	}
	return ParseEngineConfig(data)
}

// ParseEngineConfig validates YAML/JSON bytes against the engine schema and
// fills every unset field from the defaults.
func ParseEngineConfig(data []byte) (*EngineConfig, error) {
	if len(data) == 0 {
		return DefaultEngineConfig(), nil
	}
	if err := validateConfigSchema("engine", engineSchemaFile, data); err != nil {
		return DefaultEngineConfig(), err
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultEngineConfig(), fmt.Errorf("parse engine config: %w", err)
	}
	if err := mergo.Merge(&cfg, DefaultEngineConfig()); err != nil {
		return DefaultEngineConfig(), fmt.Errorf("merge engine defaults: %w", err)
	}
	return &cfg, nil
}
