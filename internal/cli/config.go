package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/cloudprof/internal/config"
)

func newConfigCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective agent configuration",
		Long: `Print the configuration the agent would run with, after defaults,
the config file and CLOUDPROF_* environment variables are applied.

The configuration is validated; problems are reported after the YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configFile)
			if err != nil {
				return fmt.Errorf("failed to load agent configuration: %w", err)
			}

			data, err := config.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid agent configuration: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", fmt.Sprintf("Path to agent configuration file (default: $%s)", config.EnvConfigFile))

	return cmd
}
