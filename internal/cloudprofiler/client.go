// Package cloudprofiler talks to the Cloud Profiler REST API.
//
// Client implements agent.SessionClient: CreateSession issues
// projects.profiles.create (a long poll answered when the service wants a
// profile from this deployment) and UploadSession patches the returned
// profile with the compressed pprof bytes.
//
// A bearer token is fetched from the configured token source before every call,
// so credential failures surface as agent.AuthError on the call that hit them.
package cloudprofiler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	cloudprofiler "google.golang.org/api/cloudprofiler/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/coral-mesh/cloudprof/internal/agent"
	"github.com/coral-mesh/cloudprof/pkg/version"
)

const (
	// DefaultEndpoint is the public Cloud Profiler API endpoint.
	DefaultEndpoint = "https://cloudprofiler.googleapis.com/"

	// ProfileTypeCPU requests a CPU profile.
	ProfileTypeCPU = "CPU"

	retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"
)

// DefaultScopes are the OAuth scopes requested by the default token source.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/monitoring",
	"https://www.googleapis.com/auth/monitoring.write",
}

// Config configures a Client.
type Config struct {
	// Endpoint overrides DefaultEndpoint.
	Endpoint string

	// TokenSource supplies bearer tokens. Defaults to Application Default
	// Credentials with Scopes.
	TokenSource oauth2.TokenSource

	// Scopes used for the default token source. Defaults to DefaultScopes.
	Scopes []string

	// ProfileTypes requested on create. Defaults to CPU.
	ProfileTypes []string

	// InstanceLabels are added to every uploaded profile.
	InstanceLabels map[string]string

	// HTTPClient provides the base transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// ClientOptions are appended to the options used for every API service.
	ClientOptions []option.ClientOption

	Logger zerolog.Logger
}

// Client is an agent.SessionClient backed by Cloud Profiler.
type Client struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a Client. The default token source is resolved here so that
// missing credentials are reported at startup.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{ProfileTypeCPU}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.TokenSource == nil {
		ts, err := google.DefaultTokenSource(ctx, cfg.Scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		cfg.TokenSource = ts
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "cloudprofiler_client").Logger(),
	}, nil
}

// service builds an API service authorized with a freshly fetched token.
func (c *Client) service(ctx context.Context) (*cloudprofiler.Service, error) {
	token, err := c.cfg.TokenSource.Token()
	if err != nil {
		return nil, &agent.AuthError{Err: err}
	}

	base := c.cfg.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   base,
		},
		Timeout: c.cfg.HTTPClient.Timeout,
	}

	opts := []option.ClientOption{
		option.WithEndpoint(c.cfg.Endpoint),
		option.WithHTTPClient(httpClient),
		option.WithUserAgent(version.UserAgent()),
	}
	opts = append(opts, c.cfg.ClientOptions...)

	svc, err := cloudprofiler.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud profiler service: %w", err)
	}
	return svc, nil
}

// CreateSession asks the service for the next profile of this deployment.
func (c *Client) CreateSession(ctx context.Context, deployment agent.Deployment) (*agent.Session, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	req := &cloudprofiler.CreateProfileRequest{
		Deployment:  toDeployment(deployment),
		ProfileType: c.cfg.ProfileTypes,
	}

	parent := "projects/" + deployment.ProjectID
	p, err := svc.Projects.Profiles.Create(parent, req).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err)
	}

	session := &agent.Session{
		Name:        p.Name,
		ProfileType: p.ProfileType,
		Labels:      p.Labels,
		Deployment:  fromDeployment(p.Deployment, deployment),
	}
	if p.Duration != "" {
		d, err := time.ParseDuration(p.Duration)
		if err != nil {
			c.logger.Warn().Err(err).Str("duration", p.Duration).Msg("Ignoring unparseable profile duration")
		} else {
			session.Duration = &d
		}
	}

	return session, nil
}

// UploadSession patches the session's profile with the compressed artifact.
func (c *Client) UploadSession(ctx context.Context, session *agent.Session, artifact []byte) error {
	if session == nil || session.Name == "" {
		return agent.ErrMissingName
	}

	svc, err := c.service(ctx)
	if err != nil {
		return err
	}

	labels := make(map[string]string, len(session.Labels)+len(c.cfg.InstanceLabels))
	maps.Copy(labels, session.Labels)
	maps.Copy(labels, c.cfg.InstanceLabels)

	p := &cloudprofiler.Profile{
		Name:         session.Name,
		ProfileType:  session.ProfileType,
		Deployment:   toDeployment(session.Deployment),
		Labels:       labels,
		ProfileBytes: base64.StdEncoding.EncodeToString(artifact),
	}
	if session.Duration != nil {
		p.Duration = formatDuration(*session.Duration)
	}

	if _, err := svc.Projects.Profiles.Patch(session.Name, p).Context(ctx).Do(); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

func toDeployment(d agent.Deployment) *cloudprofiler.Deployment {
	return &cloudprofiler.Deployment{
		ProjectId: d.ProjectID,
		Target:    d.Target,
		Labels:    d.Labels,
	}
}

func fromDeployment(d *cloudprofiler.Deployment, fallback agent.Deployment) agent.Deployment {
	if d == nil {
		return fallback
	}
	return agent.Deployment{
		ProjectID: d.ProjectId,
		Target:    d.Target,
		Labels:    d.Labels,
	}
}

// formatDuration renders d in the proto3 JSON duration form ("10s", "0.5s").
func formatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// APIError is a failed API call, optionally carrying the delay the server
// asked for before the next attempt.
type APIError struct {
	Err        error
	Delay      time.Duration
	HasDelay   bool
	StatusCode int
}

func (e *APIError) Error() string {
	return e.Err.Error()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// RetryDelay returns the server-requested delay, if any.
func (e *APIError) RetryDelay() (time.Duration, bool) {
	return e.Delay, e.HasDelay
}

func wrapAPIError(err error) error {
	apiErr := &APIError{Err: err}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		apiErr.StatusCode = gerr.Code
		apiErr.Delay, apiErr.HasDelay = retryDelay(gerr.Details)
	}
	return apiErr
}

// retryDelay finds a google.rpc.RetryInfo entry in decoded error details.
func retryDelay(details []interface{}) (time.Duration, bool) {
	for _, detail := range details {
		m, ok := detail.(map[string]interface{})
		if !ok {
			continue
		}
		if m["@type"] != retryInfoType {
			continue
		}
		raw, ok := m["retryDelay"].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			continue
		}
		return d, true
	}
	return 0, false
}
