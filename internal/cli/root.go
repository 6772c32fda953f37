// Package cli implements the feedsim command-line interface using cobra.
package cli

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/feedsim/feedsim/internal/config"
)

// Build metadata, set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedsim",
		Short: "Simulated event producer fleet",
		Long: `Feedsim runs fleets of simulated periodic event producers feeding one
downstream ingestion sink, with an HTTP control API and dashboard.

Producers are started and stopped at runtime through the API; each one emits
a structured event on its own jittered timer. Without ingest credentials the
sink runs in dry-run mode and only records what it would send.

Quick start:
  feedsim serve                       # dry-run, defaults, dashboard on :8077
  feedsim serve --config feedsim.yaml
  feedsim check --config feedsim.yaml
  feedsim alert --message "deploy finished"`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		checkCmd(),
		alertCmd(),
		versionCmd(),
	)

	return cmd
}

// loadConfig loads the config file when a path is given, otherwise builds a
// config from defaults plus FEEDSIM_* environment variables.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv(), nil
}
