// Package cloudprof runs a continuous Cloud Profiler agent inside a Go process.
//
// # Basic Usage
//
//	h, err := cloudprof.MaybeStart(ctx, cloudprof.Params{
//	    Service: "checkout",
//	    Version: "1.4.2",
//	})
//	if errors.Is(err, cloudprof.ErrIneligible) {
//	    // Not on GCE; profiling is off.
//	}
//	defer h.Stop()
//
// The agent loops forever: it asks the service for a profiling session,
// captures a CPU profile for the requested duration and uploads it. Failures
// never reach the host; they are logged, reported to Params.Observer and
// retried after a randomized, growing wait.
package cloudprof

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/coral-mesh/cloudprof/internal/agent"
	"github.com/coral-mesh/cloudprof/internal/backoff"
	"github.com/coral-mesh/cloudprof/internal/cloudprofiler"
	"github.com/coral-mesh/cloudprof/internal/config"
	"github.com/coral-mesh/cloudprof/internal/platform"
	"github.com/coral-mesh/cloudprof/internal/sampler"
)

// ErrIneligible is returned by MaybeStart when the host cannot be profiled.
var ErrIneligible = errors.New("cloudprof: platform is not eligible for profiling")

// Host-facing collaborator types.
type (
	Gate            = agent.Gate
	GateFunc        = agent.GateFunc
	Configuration   = agent.Configuration
	ConfigSource    = agent.ConfigSource
	ConfigFunc      = agent.ConfigFunc
	Failure         = agent.Failure
	FailureObserver = agent.FailureObserver
	FailureFunc     = agent.FailureFunc
	Kind            = agent.Kind
)

// Deployment label keys set by the agent. Caller labels cannot override them.
const (
	LabelLanguage = "language"
	LabelVersion  = "version"
	LabelZone     = "zone"
	LabelInstance = "instance"
)

// Params configures MaybeStart.
type Params struct {
	// ProjectID is resolved from the metadata server when empty.
	ProjectID string
	// Service is the deployment target. Required.
	Service string
	// Version of the profiled service, attached as a deployment label.
	Version string
	// Labels are extra deployment labels.
	Labels map[string]string

	// Gate suspends profiling while it reports false. Default: always run.
	Gate Gate
	// Configuration is read once per cycle. It takes precedence over SamplingRate.
	Configuration ConfigSource
	// SamplingRate is the CPU sampling frequency in Hz when Configuration is nil.
	SamplingRate int
	// Observer is told about every failed cycle.
	Observer FailureObserver

	// Logger receives agent logs. A zero Logger disables logging.
	Logger zerolog.Logger

	// Endpoint overrides the Cloud Profiler API endpoint.
	Endpoint string
	// TokenSource overrides Application Default Credentials.
	TokenSource oauth2.TokenSource
	// ClientOptions are passed to the API client.
	ClientOptions []option.ClientOption

	// SkipPlatformCheck runs the agent off GCE. ProjectID should be set.
	SkipPlatformCheck bool

	IdleInterval  time.Duration
	CreateTimeout time.Duration
	UploadTimeout time.Duration
	Backoff       backoff.Config
}

// FromConfig builds Params from a loaded agent configuration.
func FromConfig(cfg *config.AgentConfig, logger zerolog.Logger) Params {
	return Params{
		ProjectID:         cfg.ProjectID,
		Service:           cfg.Service,
		Version:           cfg.Version,
		Labels:            maps.Clone(cfg.Labels),
		SamplingRate:      cfg.SamplingRate,
		Logger:            logger,
		Endpoint:          cfg.APIEndpoint,
		SkipPlatformCheck: cfg.SkipPlatformCheck,
		IdleInterval:      cfg.IdleInterval,
		CreateTimeout:     cfg.CreateTimeout,
		UploadTimeout:     cfg.UploadTimeout,
		Backoff:           cfg.BackoffSettings(),
	}
}

// Handle controls a running agent.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop cancels the agent and waits for the loop to exit. It is safe to call
// more than once and on a nil Handle.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns why the loop exited. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// platformInfo is the part of platform.Detector MaybeStart needs.
type platformInfo interface {
	Eligible(ctx context.Context) bool
	ProjectID(ctx context.Context) (string, error)
	Zone(ctx context.Context) string
	InstanceName(ctx context.Context) string
}

type starter struct {
	platform  platformInfo
	newClient func(ctx context.Context, cfg cloudprofiler.Config) (agent.SessionClient, error)
	sampler   agent.Sampler
}

func defaultStarter(p Params, logger zerolog.Logger) starter {
	return starter{
		platform: platform.NewDetector(logger, platform.WithSkipCheck(p.SkipPlatformCheck)),
		newClient: func(ctx context.Context, cfg cloudprofiler.Config) (agent.SessionClient, error) {
			return cloudprofiler.New(ctx, cfg)
		},
		sampler: sampler.NewCPU(),
	}
}

// MaybeStart validates p, checks that this host may be profiled and starts
// the agent in a background goroutine. The agent runs until ctx is canceled
// or Stop is called. When the host is not eligible it returns ErrIneligible
// and starts nothing.
func MaybeStart(ctx context.Context, p Params) (*Handle, error) {
	logger := p.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	return defaultStarter(p, logger).start(ctx, p, logger)
}

func (s starter) start(ctx context.Context, p Params, logger zerolog.Logger) (*Handle, error) {
	if err := config.ValidateServiceName(p.Service); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	if !s.platform.Eligible(ctx) {
		logger.Info().Str("service", p.Service).Msg("Platform not eligible for profiling, agent not started")
		return nil, ErrIneligible
	}

	projectID := p.ProjectID
	if projectID == "" {
		id, err := s.platform.ProjectID(ctx)
		if err != nil {
			return nil, err
		}
		projectID = id
	}

	client, err := s.newClient(ctx, cloudprofiler.Config{
		Endpoint:       p.Endpoint,
		TokenSource:    p.TokenSource,
		ClientOptions:  p.ClientOptions,
		InstanceLabels: instanceLabels(s.platform.InstanceName(ctx)),
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profiler client: %w", err)
	}

	source := p.Configuration
	if source == nil {
		source = agent.StaticConfig(agent.Configuration{SamplingRate: p.SamplingRate})
	}

	loop, err := agent.New(agent.Config{
		Deployment: agent.Deployment{
			ProjectID: projectID,
			Target:    p.Service,
			Labels:    deploymentLabels(p.Labels, p.Version, s.platform.Zone(ctx)),
		},
		Client:        client,
		Sampler:       s.sampler,
		Gate:          p.Gate,
		Configuration: source,
		Observer:      p.Observer,
		Backoff:       p.Backoff,
		IdleInterval:  p.IdleInterval,
		CreateTimeout: p.CreateTimeout,
		UploadTimeout: p.UploadTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = loop.Run(runCtx)
	}()

	return h, nil
}

// deploymentLabels merges caller labels with the agent's own labels.
func deploymentLabels(extra map[string]string, version, zone string) map[string]string {
	labels := make(map[string]string, len(extra)+3)
	maps.Copy(labels, extra)
	labels[LabelLanguage] = "go"
	if version != "" {
		labels[LabelVersion] = version
	} else {
		delete(labels, LabelVersion)
	}
	if zone != "" {
		labels[LabelZone] = zone
	} else {
		delete(labels, LabelZone)
	}
	return labels
}

func instanceLabels(instance string) map[string]string {
	if instance == "" {
		return nil
	}
	return map[string]string{LabelInstance: instance}
}
