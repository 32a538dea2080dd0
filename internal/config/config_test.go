package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/cloudprof/internal/backoff"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloudprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultAgentConfig(t *testing.T) {
	cfg := DefaultAgentConfig()

	assert.Equal(t, 100, cfg.SamplingRate)
	assert.Equal(t, time.Minute, cfg.IdleInterval)
	assert.Equal(t, time.Hour, cfg.CreateTimeout)
	assert.Equal(t, time.Minute, cfg.UploadTimeout)
	assert.Equal(t, backoff.DefaultConfig(), cfg.BackoffSettings())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotNil(t, cfg.Labels)
}

func TestLoad_File(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	path := writeConfig(t, `
project_id: my-project
service: checkout
version: 1.4.2
labels:
  team: payments
sampling_rate: 250
idle_interval: 30s
backoff:
  floor: 10s
  ceiling: 5m
  multiplier: 2
logging:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "my-project", cfg.ProjectID)
	assert.Equal(t, "checkout", cfg.Service)
	assert.Equal(t, "1.4.2", cfg.Version)
	assert.Equal(t, map[string]string{"team": "payments"}, cfg.Labels)
	assert.Equal(t, 250, cfg.SamplingRate)
	assert.Equal(t, 30*time.Second, cfg.IdleInterval)
	assert.Equal(t, time.Hour, cfg.CreateTimeout, "unset keys keep defaults")
	assert.Equal(t, backoff.Config{Floor: 10 * time.Second, Ceiling: 5 * time.Minute, Multiplier: 2}, cfg.BackoffSettings())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "service: checkout\nlabels:\n  team: payments\nsampling_rate: 250\n")

	t.Setenv("CLOUDPROF_SERVICE", "billing")
	t.Setenv("CLOUDPROF_SAMPLING_RATE", "50")
	t.Setenv("CLOUDPROF_LABELS", "env=prod, team=core")
	t.Setenv("CLOUDPROF_SKIP_PLATFORM_CHECK", "true")
	t.Setenv("CLOUDPROF_UPLOAD_TIMEOUT", "45s")
	t.Setenv("CLOUDPROF_BACKOFF_MULTIPLIER", "1.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.Service)
	assert.Equal(t, 50, cfg.SamplingRate)
	assert.Equal(t, map[string]string{"team": "core", "env": "prod"}, cfg.Labels)
	assert.True(t, cfg.SkipPlatformCheck)
	assert.Equal(t, 45*time.Second, cfg.UploadTimeout)
	assert.InDelta(t, 1.5, cfg.Backoff.Multiplier, 1e-9)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := writeConfig(t, "service: from-env-path\n")
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env-path", cfg.Service)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("CLOUDPROF_SERVICE", "checkout")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "checkout", cfg.Service)
	assert.Equal(t, 100, cfg.SamplingRate)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown key",
			body:    "service: checkout\nsampling_rat: 5\n",
			wantErr: "failed to parse config file",
		},
		{
			name:    "bad yaml",
			body:    "service: [checkout\n",
			wantErr: "failed to parse config file",
		},
		{
			name:    "missing service",
			body:    "project_id: p\n",
			wantErr: "service name is required",
		},
		{
			name:    "bad env duration",
			body:    "service: checkout\n",
			env:     map[string]string{"CLOUDPROF_IDLE_INTERVAL": "soon"},
			wantErr: "invalid duration",
		},
		{
			name:    "bad env labels",
			body:    "service: checkout\n",
			env:     map[string]string{"CLOUDPROF_LABELS": "team"},
			wantErr: "not in key=value form",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	cfg := DefaultAgentConfig()
	cfg.Service = "checkout"
	cfg.Labels["team"] = "payments"

	data, err := Marshal(cfg)
	require.NoError(t, err)

	loaded, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParseLabels(t *testing.T) {
	labels, err := ParseLabels([]string{"a=1", " b = 2 ", "", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, labels)

	_, err = ParseLabels([]string{"=1"})
	assert.Error(t, err)
}

func TestRead_SkipsValidation(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	cfg, err := Read(writeConfig(t, "sampling_rate: 10\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Service)
	assert.Error(t, cfg.Validate())
}
