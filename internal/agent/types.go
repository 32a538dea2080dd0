package agent

import (
	"context"
	"time"

	"github.com/google/pprof/profile"
)

// Configuration is the host-controlled sampling configuration.
// It is fetched once per cycle, so the host may change it at runtime.
type Configuration struct {
	// SamplingRate is the CPU sampling frequency in Hz.
	// Zero or negative selects the runtime default.
	SamplingRate int
}

// Gate reports whether profiling is currently enabled.
// ShouldRun is called from the loop goroutine and must be cheap.
type Gate interface {
	ShouldRun() bool
}

// GateFunc adapts a function to Gate.
type GateFunc func() bool

// ShouldRun calls f.
func (f GateFunc) ShouldRun() bool { return f() }

// AlwaysRun is a Gate that never suspends profiling.
var AlwaysRun Gate = GateFunc(func() bool { return true })

// ConfigSource returns the current sampling configuration.
type ConfigSource interface {
	Current() Configuration
}

// ConfigFunc adapts a function to ConfigSource.
type ConfigFunc func() Configuration

// Current calls f.
func (f ConfigFunc) Current() Configuration { return f() }

// StaticConfig returns a ConfigSource that always yields cfg.
func StaticConfig(cfg Configuration) ConfigSource {
	return ConfigFunc(func() Configuration { return cfg })
}

// Deployment identifies the profiled process to the remote service.
type Deployment struct {
	ProjectID string
	Target    string
	Labels    map[string]string
}

// Session is a remote-issued descriptor for one profiling capture.
type Session struct {
	// Name identifies the session for the upload call.
	Name string

	// ProfileType is the kind of profile the remote side asked for.
	ProfileType string

	// Duration is how long to sample. Nil when the remote omitted it.
	Duration *time.Duration

	// Labels are profile-level labels returned by the remote side.
	Labels map[string]string

	// Deployment echoes the deployment the session was created for.
	Deployment Deployment
}

// SessionClient creates profile sessions and accepts captured artifacts.
type SessionClient interface {
	CreateSession(ctx context.Context, deployment Deployment) (*Session, error)
	UploadSession(ctx context.Context, session *Session, artifact []byte) error
}

// Sampler starts local CPU captures.
type Sampler interface {
	Start(samplingRate int) (Capture, error)
}

// Capture is a running local capture.
type Capture interface {
	// Finalize stops the capture and builds its report.
	Finalize() (*profile.Profile, error)
}

// Serializer converts a report into the remote artifact format.
type Serializer interface {
	Serialize(report *profile.Profile) ([]byte, error)
}

// Compressor compresses a serialized artifact.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}
