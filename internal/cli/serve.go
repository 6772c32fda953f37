package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/feedsim/feedsim/internal/api"
	"github.com/feedsim/feedsim/internal/config"
	"github.com/feedsim/feedsim/internal/logging"
	"github.com/feedsim/feedsim/internal/metrics"
	"github.com/feedsim/feedsim/internal/producer"
	"github.com/feedsim/feedsim/internal/sink"
	"github.com/feedsim/feedsim/internal/stream"
)

func serveCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feedsim daemon",
		Long: `Run the feedsim daemon: the producer registry, the configured ingest
sink, and the HTTP control API with the dashboard.

Without --config, built-in defaults plus FEEDSIM_* environment variables
apply and the sink runs in dry-run mode unless ingest credentials are set.
With --config, the file is watched and hot-reloadable settings (producer
defaults, supervision limits, alert rate, new autostart producers) are
applied on change or SIGHUP.

Examples:
  feedsim serve
  feedsim serve --config feedsim.yaml
  FEEDSIM_INGEST_ENDPOINT=https://ingest.example.com/v1 feedsim serve`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runServe(cfg, configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path (.yaml, .json, or .toml)")

	return cmd
}

func runServe(cfg *config.Config, configFile string) error {
	logger, err := logging.New(
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.File,
		cfg.Logging.Level,
		*cfg.Logging.IncludeEmissions,
	)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Close()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: "feedsim@" + Version,
		}); err != nil {
			return fmt.Errorf("initializing sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	m := metrics.New()
	hub := stream.NewHub(stream.DefaultCapacity)
	defer hub.Close()

	transport := buildSink(cfg, logger)
	defer func() { _ = transport.Close() }()
	teed := sink.NewTee(transport, hub)

	reg := producer.New(cfg, teed, logger, m)
	defer reg.Close()

	autostart(reg, cfg, logger)

	srv := api.New(cfg, reg, hub, m, logger)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	if configFile != "" {
		rl := config.NewReloader(configFile)
		go func() { _ = rl.Watch(ctx) }()
		go applyReloads(rl, cfg, reg, srv, logger)
	}

	logger.LogStartup(cfg.Listen, cfg.Ingest.Transport, cfg.DryRunActive())
	fmt.Fprintf(os.Stderr, "feedsim v%s starting\n", Version)
	fmt.Fprintf(os.Stderr, "  Listen:    %s\n", cfg.Listen)
	fmt.Fprintf(os.Stderr, "  Dashboard: http://%s/\n", cfg.Listen)
	fmt.Fprintf(os.Stderr, "  API:       http://%s/api/producers\n", cfg.Listen)
	if cfg.DryRunActive() {
		fmt.Fprintf(os.Stderr, "  Sink:      dry-run (recording only)\n")
	} else {
		fmt.Fprintf(os.Stderr, "  Sink:      %s\n", cfg.Ingest.Transport)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.LogShutdown("signal received")
	fmt.Fprintln(os.Stderr, "\nfeedsim stopped.")
	return nil
}

// buildSink constructs the transport selected by config: the record-only
// LogSink when dry-run is in effect, otherwise HTTP or Kafka.
func buildSink(cfg *config.Config, logger *logging.Logger) sink.Sink {
	if cfg.DryRunActive() {
		return sink.NewLogSink(logger)
	}
	switch cfg.Ingest.Transport {
	case config.TransportKafka:
		return sink.NewKafkaSink(cfg.Ingest.KafkaBrokers)
	default:
		opts := []sink.HTTPOption{sink.WithHTTPTimeout(cfg.IngestTimeout())}
		if cfg.Ingest.Token != "" {
			opts = append(opts, sink.WithBearerToken(cfg.Ingest.Token))
		}
		return sink.NewHTTPSink(cfg.Ingest.Endpoint, opts...)
	}
}

// autostart brings up the producers declared in the config file. Failures
// are logged and skipped; one bad entry must not keep the daemon down.
func autostart(reg *producer.Registry, cfg *config.Config, logger *logging.Logger) {
	for _, p := range cfg.Producers {
		interval := p.IntervalSeconds
		_, err := reg.Start(producer.StartRequest{
			ProducerID:      p.ProducerID,
			Topic:           p.Topic,
			IntervalSeconds: &interval,
			JitterSeconds:   p.JitterSeconds,
			PayloadTemplate: p.PayloadTemplate,
		})
		if err != nil && !producer.IsAlreadyRunning(err) {
			logger.LogConfigReload("autostart_failed", fmt.Sprintf("producer %s: %v", p.ProducerID, err))
		}
	}
}

// applyReloads consumes reloaded configs and applies what is hot-swappable:
// registry defaults and supervision limits, the alert rate limit, and newly
// added autostart producers. Settings fixed at startup only produce warnings.
func applyReloads(rl *config.Reloader, initial *config.Config, reg *producer.Registry, srv *api.Server, logger *logging.Logger) {
	current := initial
	for cfg := range rl.Changes() {
		for _, warn := range config.ValidateReload(current, cfg) {
			logger.LogConfigReload("restart_required", warn.Message)
		}
		reg.ApplyConfig(cfg)
		srv.ApplyConfig(cfg)
		autostart(reg, cfg, logger)
		logger.LogConfigReload("applied", "hot-reloadable settings updated")
		current = cfg
	}
}
