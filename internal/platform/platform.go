// Package platform decides whether the agent may run on this host and
// gathers the environment labels attached to profiles.
package platform

import (
	"context"
	"fmt"

	"cloud.google.com/go/compute/metadata"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/host"
)

// Metadata is the subset of the GCE metadata server the agent reads.
type Metadata interface {
	OnGCE(ctx context.Context) bool
	ProjectID(ctx context.Context) (string, error)
	Zone(ctx context.Context) (string, error)
	InstanceName(ctx context.Context) (string, error)
}

// gceMetadata reads the real metadata server.
type gceMetadata struct{}

func (gceMetadata) OnGCE(ctx context.Context) bool { return metadata.OnGCEWithContext(ctx) }

func (gceMetadata) ProjectID(ctx context.Context) (string, error) {
	return metadata.ProjectIDWithContext(ctx)
}

func (gceMetadata) Zone(ctx context.Context) (string, error) { return metadata.ZoneWithContext(ctx) }

func (gceMetadata) InstanceName(ctx context.Context) (string, error) {
	return metadata.InstanceNameWithContext(ctx)
}

// Detector answers platform questions, caching the eligibility result.
type Detector struct {
	md        Metadata
	hostname  func(ctx context.Context) (string, error)
	skipCheck bool
	logger    zerolog.Logger

	checked  bool
	eligible bool
}

// Option customizes a Detector.
type Option func(*Detector)

// WithMetadata replaces the metadata server client.
func WithMetadata(md Metadata) Option {
	return func(d *Detector) { d.md = md }
}

// WithHostname replaces the host name lookup used off GCE.
func WithHostname(fn func(ctx context.Context) (string, error)) Option {
	return func(d *Detector) { d.hostname = fn }
}

// WithSkipCheck makes every host eligible. Use it to run outside GCE with
// explicit credentials.
func WithSkipCheck(skip bool) Option {
	return func(d *Detector) { d.skipCheck = skip }
}

// NewDetector creates a Detector backed by the GCE metadata server.
func NewDetector(logger zerolog.Logger, opts ...Option) *Detector {
	d := &Detector{
		md:       gceMetadata{},
		hostname: hostInfoName,
		logger:   logger.With().Str("component", "platform").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Eligible reports whether the agent may run here. The metadata server is
// probed once per Detector.
func (d *Detector) Eligible(ctx context.Context) bool {
	if d.skipCheck {
		return true
	}
	if !d.checked {
		d.eligible = d.md.OnGCE(ctx)
		d.checked = true
		d.logger.Debug().Bool("on_gce", d.eligible).Msg("Checked platform eligibility")
	}
	return d.eligible
}

// ProjectID returns the project of this instance.
func (d *Detector) ProjectID(ctx context.Context) (string, error) {
	id, err := d.md.ProjectID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get project ID from metadata: %w", err)
	}
	return id, nil
}

// Zone returns the zone of this instance, or "" off GCE.
func (d *Detector) Zone(ctx context.Context) string {
	if !d.md.OnGCE(ctx) {
		return ""
	}
	zone, err := d.md.Zone(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to get zone from metadata")
		return ""
	}
	return zone
}

// InstanceName returns the GCE instance name, falling back to the host name.
func (d *Detector) InstanceName(ctx context.Context) string {
	if d.md.OnGCE(ctx) {
		name, err := d.md.InstanceName(ctx)
		if err == nil && name != "" {
			return name
		}
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to get instance name from metadata, using host name")
		}
	}

	name, err := d.hostname(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to get host name")
		return ""
	}
	return name
}

func hostInfoName(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	return info.Hostname, nil
}
