// Package config provides configuration loading for the profiling agent.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then CLOUDPROF_* environment variables.
package config

import (
	"time"

	"github.com/coral-mesh/cloudprof/internal/agent"
	"github.com/coral-mesh/cloudprof/internal/backoff"
)

// EnvConfigFile names the environment variable holding the config file path.
const EnvConfigFile = "CLOUDPROF_CONFIG"

// AgentConfig is the configuration of a profiling agent.
type AgentConfig struct {
	ProjectID string            `yaml:"project_id,omitempty" env:"CLOUDPROF_PROJECT_ID"`
	Service   string            `yaml:"service" env:"CLOUDPROF_SERVICE"`
	Version   string            `yaml:"version,omitempty" env:"CLOUDPROF_SERVICE_VERSION"`
	Labels    map[string]string `yaml:"labels,omitempty" env:"CLOUDPROF_LABELS"`

	SamplingRate      int    `yaml:"sampling_rate,omitempty" env:"CLOUDPROF_SAMPLING_RATE"`
	SkipPlatformCheck bool   `yaml:"skip_platform_check,omitempty" env:"CLOUDPROF_SKIP_PLATFORM_CHECK"`
	APIEndpoint       string `yaml:"api_endpoint,omitempty" env:"CLOUDPROF_API_ENDPOINT"`

	IdleInterval  time.Duration `yaml:"idle_interval,omitempty" env:"CLOUDPROF_IDLE_INTERVAL"`
	CreateTimeout time.Duration `yaml:"create_timeout,omitempty" env:"CLOUDPROF_CREATE_TIMEOUT"`
	UploadTimeout time.Duration `yaml:"upload_timeout,omitempty" env:"CLOUDPROF_UPLOAD_TIMEOUT"`

	Backoff BackoffConfig `yaml:"backoff,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// BackoffConfig tunes the retry envelope.
type BackoffConfig struct {
	Floor      time.Duration `yaml:"floor,omitempty" env:"CLOUDPROF_BACKOFF_FLOOR"`
	Ceiling    time.Duration `yaml:"ceiling,omitempty" env:"CLOUDPROF_BACKOFF_CEILING"`
	Multiplier float64       `yaml:"multiplier,omitempty" env:"CLOUDPROF_BACKOFF_MULTIPLIER"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" env:"CLOUDPROF_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty,omitempty" env:"CLOUDPROF_LOG_PRETTY"`
}

// DefaultAgentConfig returns the built-in defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Labels:        map[string]string{},
		SamplingRate:  100,
		IdleInterval:  agent.DefaultIdleInterval,
		CreateTimeout: agent.DefaultCreateTimeout,
		UploadTimeout: agent.DefaultUploadTimeout,
		Backoff: BackoffConfig{
			Floor:      backoff.DefaultFloor,
			Ceiling:    backoff.DefaultCeiling,
			Multiplier: backoff.DefaultMultiplier,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// BackoffSettings converts the backoff section for backoff.New.
func (c *AgentConfig) BackoffSettings() backoff.Config {
	return backoff.Config{
		Floor:      c.Backoff.Floor,
		Ceiling:    c.Backoff.Ceiling,
		Multiplier: c.Backoff.Multiplier,
	}
}
