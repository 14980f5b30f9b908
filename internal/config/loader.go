package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, unmarshals it into Config, and applies
// defaults and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// Default returns a Config with defaults and environment overrides applied,
// for callers running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18500
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "data"
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = Duration(DefaultPollInterval)
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 1
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = WorkingDir()
	}
	if cfg.Agent.Bin == "" {
		cfg.Agent.Bin = "claude"
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Sessions.MaxAge == 0 {
		cfg.Sessions.MaxAge = Duration(SessionMaxAge)
	}
	if cfg.Sessions.QuestionTimeout == 0 {
		cfg.Sessions.QuestionTimeout = Duration(DefaultQuestionTimeout)
	}
	if cfg.Sessions.SweepInterval == 0 {
		cfg.Sessions.SweepInterval = Duration(SessionSweepInterval)
	}
	if cfg.Sessions.MaxPendingQuestions <= 0 {
		cfg.Sessions.MaxPendingQuestions = MaxPendingQuestions
	}
}

// applyEnv applies environment variable overrides on top of the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DROVER_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("DROVER_AGENT_BIN"); v != "" {
		cfg.Agent.Bin = v
	}
	if v := os.Getenv("WORKING_DIR"); v != "" {
		cfg.Workspace.Root = v
	}
	if os.Getenv("SCHEDULER_ALLOW_ANY_WORKSPACE") == "true" {
		cfg.Workspace.AllowAny = true
	}
}
