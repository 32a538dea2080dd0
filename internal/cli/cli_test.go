package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/cloudprof/internal/config"
	"github.com/coral-mesh/cloudprof/pkg/version"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "cloudprof", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "demo")
	assert.Contains(t, names, "config")
	assert.Contains(t, names, "version")
}

func TestVersionCmd(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "cloudprof version "+version.Version)
	assert.Contains(t, out.String(), "Go version: "+version.GoVersion)
}

func TestLabelFlag(t *testing.T) {
	var l labelFlag
	require.NoError(t, l.Set("team=payments"))
	require.NoError(t, l.Set("env=prod,tier=web"))

	assert.Equal(t, "env=prod,team=payments,tier=web", l.String())
	assert.Equal(t, "key=value", l.Type())
	assert.Error(t, l.Set("broken"))
}

func TestLoadDemoConfig(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	path := filepath.Join(t.TempDir(), "cloudprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: from-file\nlabels:\n  team: payments\nsampling_rate: 50\n"), 0o600))

	cmd := newDemoCmd()
	opts := &demoOptions{}
	// newDemoCmd registered its own options; use a fresh set bound to opts.
	cmd.ResetFlags()
	opts.register(cmd.Flags())

	require.NoError(t, cmd.Flags().Parse([]string{
		"--config", path,
		"--service", "checkout",
		"--label", "env=prod",
		"--skip-platform-check",
		"--log-level", "debug",
	}))

	cfg, err := loadDemoConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "checkout", cfg.Service)
	assert.Equal(t, 50, cfg.SamplingRate, "unset flags keep file values")
	assert.Equal(t, map[string]string{"team": "payments", "env": "prod"}, cfg.Labels)
	assert.True(t, cfg.SkipPlatformCheck)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDemoConfig_Invalid(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv("CLOUDPROF_SERVICE", "")

	cmd := newDemoCmd()
	opts := &demoOptions{}
	cmd.ResetFlags()
	opts.register(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--service", "Not Valid"}))

	_, err := loadDemoConfig(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid agent configuration")
}

func TestBurnStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		burn(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("burn did not stop")
	}
}

func TestConfigCmd(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv("CLOUDPROF_SAMPLING_RATE", "")
	t.Setenv("CLOUDPROF_SERVICE", "checkout")

	path := filepath.Join(t.TempDir(), "cloudprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte("labels:\n  team: payments\n"), 0o600))

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "service: checkout")
	assert.Contains(t, out.String(), "team: payments")
	assert.Contains(t, out.String(), "sampling_rate: 100")
}

func TestConfigCmd_Invalid(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv("CLOUDPROF_SERVICE", "")

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service name is required")
	assert.Contains(t, out.String(), "sampling_rate: 100", "the configuration is shown before the error")
}
