package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedsim/feedsim/internal/logging"
	"github.com/feedsim/feedsim/internal/metrics"
	"github.com/feedsim/feedsim/internal/producer"
)

// ErrAlertRejected is returned when the sink did not accept the alert.
var ErrAlertRejected = errors.New("alert rejected")

func alertCmd() *cobra.Command {
	var configFile string
	var message string
	var severity string
	var topic string
	var producerID string

	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Send a one-off alert through the configured sink",
		Long: `Build the sink from config and submit a single alert event, without
running the daemon. Useful from cron jobs and deploy scripts.

Examples:
  feedsim alert --message "deploy finished"
  feedsim alert --config feedsim.yaml --message "disk filling" --severity critical`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			// One-shot invocation: log only what the sink itself records.
			logger := logging.NewNop()
			snk := buildSink(cfg, logger)
			defer func() { _ = snk.Close() }()

			reg := producer.New(cfg, snk, logger, metrics.New())
			defer reg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.IngestTimeout()+5*time.Second)
			defer cancel()

			res, err := reg.Alert(ctx, producer.AlertRequest{
				Message:    message,
				Severity:   severity,
				Topic:      topic,
				ProducerID: producerID,
			})
			if err != nil {
				return fmt.Errorf("sending alert: %w", err)
			}
			if !res.Accepted {
				fmt.Printf("Alert REJECTED: %s\n", res.Detail)
				return ErrAlertRejected
			}
			fmt.Printf("Alert accepted: %s\n", res.Detail)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&message, "message", "m", "", "alert message (required)")
	cmd.Flags().StringVarP(&severity, "severity", "s", "", "severity: debug, info, warning, error, critical")
	cmd.Flags().StringVar(&topic, "topic", "", "topic override")
	cmd.Flags().StringVar(&producerID, "producer-id", "", fmt.Sprintf("producer label (default %q)", producer.AlertProducerID))
	_ = cmd.MarkFlagRequired("message")

	return cmd
}
