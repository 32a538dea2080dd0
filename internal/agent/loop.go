// Package agent implements the profiling control loop.
//
// The loop runs the create -> sample -> upload cycle forever. Every failure is
// logged, reported to the optional FailureObserver and retried after a wait
// drawn from a backoff.Backoff. A successful cycle resets the backoff. The loop
// stops only when its context is canceled.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/cloudprof/internal/artifact"
	"github.com/coral-mesh/cloudprof/internal/backoff"
)

const (
	// DefaultIdleInterval is how long the loop waits before re-checking a closed gate.
	DefaultIdleInterval = time.Minute

	// DefaultCreateTimeout bounds a create call. The remote create is a long
	// poll that is held open until the service wants a profile.
	DefaultCreateTimeout = time.Hour

	// DefaultUploadTimeout bounds an upload call.
	DefaultUploadTimeout = time.Minute
)

// Config holds the collaborators and tuning of a Loop.
type Config struct {
	Deployment Deployment

	Client  SessionClient // Required
	Sampler Sampler       // Required

	Serializer Serializer // Default: artifact.PprofSerializer
	Compressor Compressor // Default: artifact.GzipCompressor

	Gate          Gate            // Default: AlwaysRun
	Configuration ConfigSource    // Default: zero Configuration
	Observer      FailureObserver // Optional

	Backoff       backoff.Config // Zero value selects backoff.DefaultConfig()
	IdleInterval  time.Duration  // Default: 1m
	CreateTimeout time.Duration  // Default: 1h, negative disables
	UploadTimeout time.Duration  // Default: 1m, negative disables

	Logger zerolog.Logger
}

type waitReason int

const (
	waitIdle waitReason = iota
	waitBackoff
	waitSampling
)

func (r waitReason) String() string {
	switch r {
	case waitIdle:
		return "idle"
	case waitBackoff:
		return "backoff"
	case waitSampling:
		return "sampling"
	default:
		return "unknown"
	}
}

// Loop is the profiling control loop. It is not safe to call Run concurrently.
type Loop struct {
	cfg     Config
	backoff *backoff.Backoff
	logger  zerolog.Logger

	sleep      func(ctx context.Context, reason waitReason, d time.Duration) error
	newCycleID func() string
}

// New validates cfg and creates a Loop.
func New(cfg Config, opts ...backoff.Option) (*Loop, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("session client is required")
	}
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("sampler is required")
	}
	if cfg.Serializer == nil {
		cfg.Serializer = artifact.PprofSerializer{}
	}
	if cfg.Compressor == nil {
		cfg.Compressor = artifact.GzipCompressor{}
	}
	if cfg.Gate == nil {
		cfg.Gate = AlwaysRun
	}
	if cfg.Configuration == nil {
		cfg.Configuration = StaticConfig(Configuration{})
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.DefaultConfig()
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.CreateTimeout == 0 {
		cfg.CreateTimeout = DefaultCreateTimeout
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Loop{
		cfg:     cfg,
		backoff: backoff.New(cfg.Backoff, opts...),
		logger: logger.With().
			Str("component", "profiling_loop").
			Str("target", cfg.Deployment.Target).
			Logger(),
		sleep:      sleepContext,
		newCycleID: uuid.NewString,
	}, nil
}

// Run executes cycles until ctx is canceled and then returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Str("project_id", l.cfg.Deployment.ProjectID).
		Dur("idle_interval", l.cfg.IdleInterval).
		Msg("Starting profiling loop")

	var (
		failed  bool
		retryIn time.Duration
	)

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info().Msg("Stopping profiling loop")
			return err
		}

		if !l.cfg.Gate.ShouldRun() {
			if err := l.sleep(ctx, waitIdle, l.cfg.IdleInterval); err != nil {
				l.logger.Info().Msg("Stopping profiling loop")
				return err
			}
			continue
		}

		if failed {
			l.logger.Debug().Dur("retry_in", retryIn).Msg("Retrying profiling cycle")
			if err := l.sleep(ctx, waitBackoff, retryIn); err != nil {
				l.logger.Info().Msg("Stopping profiling loop")
				return err
			}
		} else {
			l.backoff.Reset()
		}

		logger := l.logger.With().Str("cycle_id", l.newCycleID()).Logger()
		err := l.runCycle(ctx, logger)
		if err == nil {
			failed = false
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			l.logger.Info().Msg("Stopping profiling loop")
			return ctxErr
		}

		failed = true
		retryIn = l.nextWait(err)
		l.reportFailure(logger, err, retryIn)
	}
}

// runCycle performs one create -> sample -> upload pass.
func (l *Loop) runCycle(ctx context.Context, logger zerolog.Logger) error {
	session, duration, err := l.createSession(ctx)
	if err != nil {
		return err
	}

	logger.Debug().
		Str("profile", session.Name).
		Str("profile_type", session.ProfileType).
		Dur("duration", duration).
		Msg("Created profile session")

	report, err := l.sample(ctx, duration)
	if err != nil {
		return err
	}

	size, err := l.upload(ctx, session, report)
	if err != nil {
		return err
	}

	logger.Info().
		Str("profile", session.Name).
		Dur("duration", duration).
		Int("sample_count", len(report.Sample)).
		Int("bytes", size).
		Msg("Uploaded profile")

	return nil
}

func (l *Loop) createSession(ctx context.Context) (*Session, time.Duration, error) {
	callCtx, cancel := withTimeout(ctx, l.cfg.CreateTimeout)
	defer cancel()

	session, err := l.cfg.Client.CreateSession(callCtx, l.cfg.Deployment)
	if err != nil {
		return nil, 0, stageErr(StageCreate, remoteKind(err, KindSessionCreate), fmt.Errorf("failed to create profile: %w", err))
	}
	if session == nil || session.Duration == nil {
		return nil, 0, stageErr(StageCreate, KindMalformedSession, ErrMissingDuration)
	}
	if *session.Duration < 0 {
		return nil, 0, stageErr(StageCreate, KindMalformedSession, fmt.Errorf("%w: %s", ErrNegativeDuration, *session.Duration))
	}

	return session, *session.Duration, nil
}

// sample captures for exactly d. The capture is always finalized so the
// runtime profiler is released even when ctx is canceled mid-capture.
func (l *Loop) sample(ctx context.Context, d time.Duration) (*profile.Profile, error) {
	cfg := l.cfg.Configuration.Current()

	capture, err := l.cfg.Sampler.Start(cfg.SamplingRate)
	if err != nil {
		return nil, stageErr(StageSample, KindSamplingStart, fmt.Errorf("failed to start profiling: %w", err))
	}

	sleepErr := l.sleep(ctx, waitSampling, d)

	report, err := capture.Finalize()
	if sleepErr != nil {
		return nil, sleepErr
	}
	if err != nil {
		return nil, stageErr(StageSample, KindReportBuild, fmt.Errorf("failed to build report: %w", err))
	}
	if report == nil {
		return nil, stageErr(StageSample, KindReportBuild, errors.New("sampler returned no report"))
	}

	return report, nil
}

func (l *Loop) upload(ctx context.Context, session *Session, report *profile.Profile) (int, error) {
	data, err := l.cfg.Serializer.Serialize(report)
	if err != nil {
		return 0, stageErr(StageUpload, KindSerialization, fmt.Errorf("failed to serialize profile: %w", err))
	}

	blob, err := l.cfg.Compressor.Compress(data)
	if err != nil {
		return 0, stageErr(StageUpload, KindCompression, fmt.Errorf("failed to compress profile: %w", err))
	}

	if session.Name == "" {
		return 0, stageErr(StageUpload, KindMissingSessionIdentity, ErrMissingName)
	}

	callCtx, cancel := withTimeout(ctx, l.cfg.UploadTimeout)
	defer cancel()

	if err := l.cfg.Client.UploadSession(callCtx, session, blob); err != nil {
		return 0, stageErr(StageUpload, remoteKind(err, KindUpload), fmt.Errorf("failed to upload profile: %w", err))
	}

	return len(blob), nil
}

// nextWait honors a server-requested delay, otherwise draws from the backoff.
func (l *Loop) nextWait(err error) time.Duration {
	if d, ok := retryDelayOf(err); ok && d >= 0 {
		return d
	}
	return l.backoff.Next()
}

func (l *Loop) reportFailure(logger zerolog.Logger, err error, retryIn time.Duration) {
	kind := KindOf(err)
	stage := StageOf(err)

	event := logger.Warn()
	if kind.Local() {
		event = logger.Error()
	}
	event.
		Err(err).
		Str("stage", stage).
		Str("kind", kind.String()).
		Dur("retry_in", retryIn).
		Msg("Profiling cycle failed")

	if l.cfg.Observer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Failure observer panicked")
		}
	}()
	l.cfg.Observer.ObserveFailure(Failure{Stage: stage, Kind: kind, Err: err, RetryIn: retryIn})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleepContext(ctx context.Context, _ waitReason, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
