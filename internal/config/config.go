// Package config holds the drover configuration: YAML file, .env loading,
// environment overrides, and the engine limits.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for drover.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Data      DataConfig      `yaml:"data"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Agent     AgentConfig     `yaml:"agent"`
	Events    EventsConfig    `yaml:"events"`
	Sessions  SessionsConfig  `yaml:"sessions"`
}

// GatewayConfig holds the HTTP server settings.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DataConfig locates the on-disk task collections.
type DataConfig struct {
	Dir string `yaml:"dir"` // default "data", override: $DROVER_DATA_DIR
}

// SchedulerConfig tunes the polling loop.
type SchedulerConfig struct {
	PollInterval Duration `yaml:"poll_interval"` // default 10s
	Workers      int      `yaml:"workers"`       // executor workers, default 1
}

// WorkspaceConfig controls which workspace paths tasks may target.
type WorkspaceConfig struct {
	Root          string   `yaml:"root"`           // default $WORKING_DIR or cwd
	AllowAny      bool     `yaml:"allow_any"`      // or SCHEDULER_ALLOW_ANY_WORKSPACE=true
	AllowPatterns []string `yaml:"allow_patterns"` // doublestar globs allowed outside the root
}

// AgentConfig configures the coding-agent subprocess.
type AgentConfig struct {
	Bin            string `yaml:"bin"`             // default "claude", override: $DROVER_AGENT_BIN
	PermissionMode string `yaml:"permission_mode"` // default mode for interactive streams
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// SessionsConfig tunes the streaming session manager.
type SessionsConfig struct {
	MaxAge              Duration `yaml:"max_age"`               // default 4h
	QuestionTimeout     Duration `yaml:"question_timeout"`      // default 5m
	SweepInterval       Duration `yaml:"sweep_interval"`        // default 10m
	MaxPendingQuestions int      `yaml:"max_pending_questions"` // default 5
}

// Duration wraps time.Duration for YAML unmarshaling ("10s", "4h").
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
