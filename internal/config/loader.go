package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ResolvePath returns the config file to read: path when set, otherwise
// the CLOUDPROF_CONFIG environment variable. An empty result means no file.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(EnvConfigFile)
}

// Load builds an AgentConfig from defaults, the optional YAML file at path
// and CLOUDPROF_* environment overrides, in that order, and validates it.
func Load(path string) (*AgentConfig, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides (such as command-line flags) before validating.
func Read(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if path = ResolvePath(path); path != "" {
		//nolint:gosec // G304: Path is supplied by the operator.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return cfg, nil
}

// MergeFromEnv merges environment variables into an existing config.
func MergeFromEnv(cfg *AgentConfig) error {
	if err := LoadFromEnv(cfg); err != nil {
		return err
	}
	if cfg.Labels == nil {
		cfg.Labels = map[string]string{}
	}
	return nil
}

// decode unmarshals YAML over the defaults in cfg. Unknown keys are errors
// so that typos do not silently fall back to defaults.
func decode(data []byte, cfg *AgentConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *AgentConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
