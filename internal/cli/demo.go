package cli

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/cloudprof/internal/config"
	"github.com/coral-mesh/cloudprof/internal/logging"
	"github.com/coral-mesh/cloudprof/pkg/cloudprof"
)

func newDemoCmd() *cobra.Command {
	opts := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Profile a synthetic CPU workload",
		Long: `Run the profiling agent next to a synthetic CPU workload until interrupted.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (CLOUDPROF_*)
3. Config file (--config flag or $CLOUDPROF_CONFIG)
4. Defaults

Configuration File Format:
  project_id: my-project
  service: checkout
  version: 1.4.2
  labels:
    team: payments
  sampling_rate: 100
  backoff:
    floor: 1m
    ceiling: 1h
    multiplier: 1.3
  logging:
    level: info

Examples:
  # On GCE, project from the metadata server
  cloudprof demo --service checkout

  # Elsewhere, with Application Default Credentials
  cloudprof demo --service checkout --project my-project --skip-platform-check --pretty`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDemoConfig(cmd, opts)
			if err != nil {
				return err
			}

			logger := logging.New(logging.Config{
				Level:  cfg.Logging.Level,
				Pretty: cfg.Logging.Pretty,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var failures atomic.Int64
			params := cloudprof.FromConfig(cfg, logger)
			params.Observer = cloudprof.FailureFunc(func(f cloudprof.Failure) {
				failures.Add(1)
			})

			h, err := cloudprof.MaybeStart(ctx, params)
			if errors.Is(err, cloudprof.ErrIneligible) {
				return fmt.Errorf("not running on GCE; pass --skip-platform-check and --project to profile elsewhere")
			}
			if err != nil {
				return fmt.Errorf("failed to start profiling agent: %w", err)
			}

			var wg sync.WaitGroup
			for i := 0; i < opts.workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					burn(ctx)
				}()
			}

			logger.Info().
				Str("service", cfg.Service).
				Int("burn_workers", opts.workers).
				Msg("Demo started - waiting for shutdown signal")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case sig := <-sigChan:
				logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal - stopping agent")
			case <-h.Done():
				logger.Warn().Err(h.Err()).Msg("Profiling agent exited")
			}

			cancel()
			h.Stop()
			wg.Wait()

			logger.Info().Int64("failed_cycles", failures.Load()).Msg("Demo stopped")
			return nil
		},
	}

	opts.register(cmd.Flags())

	return cmd
}

// loadDemoConfig layers the demo flags over the file and environment
// configuration and validates the result.
func loadDemoConfig(cmd *cobra.Command, opts *demoOptions) (*config.AgentConfig, error) {
	cfg, err := config.Read(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent configuration: %w", err)
	}

	opts.apply(cmd.Flags(), cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	return cfg, nil
}

// burn keeps one CPU busy hashing until ctx is canceled.
func burn(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for i := 0; i < 64; i++ {
			sum := sha256.Sum256(buf)
			copy(buf, sum[:])
		}
	}
}
