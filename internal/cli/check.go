package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/feedsim/feedsim/internal/config"
)

func checkCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and print the effective settings",
		Long: `Validate a feedsim config file and print the settings the daemon would
run with, including applied defaults and FEEDSIM_* environment overrides.

Examples:
  feedsim check --config feedsim.yaml
  feedsim check`,
		RunE: func(_ *cobra.Command, _ []string) error {
			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Config validation FAILED: %v\n", err)
					return err
				}
				fmt.Println("Config validation: OK")
			} else {
				cfg = config.FromEnv()
				fmt.Println("Using default config (no --config specified)")
			}

			sinkDesc := cfg.Ingest.Transport
			if cfg.DryRunActive() {
				sinkDesc = "dry-run (recording only)"
			}

			fmt.Printf("  Listen:           %s\n", cfg.Listen)
			fmt.Printf("  Sink:             %s\n", sinkDesc)
			fmt.Printf("  Target table:     %s\n", cfg.Ingest.TargetTable)
			fmt.Printf("  Default topic:    %s\n", cfg.Defaults.Topic)
			fmt.Printf("  Default interval: %gs (jitter %gs)\n",
				cfg.Defaults.IntervalSeconds, *cfg.Defaults.JitterSeconds)
			fmt.Printf("  Stop grace:       %s\n", cfg.StopGrace())
			fmt.Printf("  Max consec fails: %d", cfg.Supervision.MaxConsecutiveFailures)
			if cfg.Supervision.MaxConsecutiveFailures == 0 {
				fmt.Printf(" (never auto-fail)")
			}
			fmt.Println()
			fmt.Printf("  Recent events:    %d per producer\n", cfg.Supervision.RecentEvents)
			fmt.Printf("  Alert limit:      %d/minute\n", cfg.Alerts.MaxPerMinute)
			fmt.Printf("  Autostart:        %d producer(s)\n", len(cfg.Producers))
			for _, p := range cfg.Producers {
				fmt.Printf("    - %s (topic %s, every %gs)\n", p.ProducerID, p.Topic, p.IntervalSeconds)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path to validate")

	return cmd
}
