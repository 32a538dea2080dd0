// Package cli implements the cloudprof command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/cloudprof/pkg/version"
)

// NewRootCmd builds the cloudprof command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cloudprof",
		Short: "cloudprof - continuous Cloud Profiler agent for Go",
		Long: `Continuously profile a Go process and upload the profiles to Cloud Profiler.

The agent is normally embedded with pkg/cloudprof. This binary runs it next to
a synthetic CPU workload so the setup (credentials, project, labels) can be
checked end to end.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newDemoCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("cloudprof version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
