// Package config handles loading, validating, and defaulting feedsim configuration.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Transport constants for the ingest sink.
const (
	TransportHTTP  = "http"
	TransportKafka = "kafka"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen      = "127.0.0.1:8077"
	DefaultTopic       = "feedsim_events"
	DefaultTargetTable = "main.default.feedsim_events"
	DefaultLogFormat   = "json"
	DefaultLogOutput   = "stdout"
	OutputFile         = "file"
	OutputBoth         = "both"
)

// IngestConfig selects and parameterizes the transport used to deliver
// event batches.
type IngestConfig struct {
	Transport      string   `json:"transport" yaml:"transport" toml:"transport"`                   // http, kafka
	DryRun         bool     `json:"dry_run" yaml:"dry_run" toml:"dry_run"`                         // record only, never deliver
	Endpoint       string   `json:"endpoint" yaml:"endpoint" toml:"endpoint"`                      // HTTP ingest URL
	Token          string   `json:"token" yaml:"token" toml:"token"`                               // bearer token for HTTP ingest
	KafkaBrokers   []string `json:"kafka_brokers" yaml:"kafka_brokers" toml:"kafka_brokers"`       // host:port list
	TargetTable    string   `json:"target_table" yaml:"target_table" toml:"target_table"`          // fully qualified destination table
	TimeoutSeconds float64  `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"` // per-request deadline
}

// ProducerDefaults supplies values for start requests that omit optional
// fields. JitterSeconds is a pointer so an explicit 0 in the file is
// distinguishable from unset.
type ProducerDefaults struct {
	Topic           string   `json:"topic" yaml:"topic" toml:"topic"`
	IntervalSeconds float64  `json:"interval_seconds" yaml:"interval_seconds" toml:"interval_seconds"`
	JitterSeconds   *float64 `json:"jitter_seconds" yaml:"jitter_seconds" toml:"jitter_seconds"`
}

// SupervisionConfig tunes producer lifecycle management.
type SupervisionConfig struct {
	StopGraceSeconds       float64 `json:"stop_grace_seconds" yaml:"stop_grace_seconds" toml:"stop_grace_seconds"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures" yaml:"max_consecutive_failures" toml:"max_consecutive_failures"` // 0 = keep running forever
	RecentEvents           int     `json:"recent_events" yaml:"recent_events" toml:"recent_events"`                                  // per-producer recent ring size
}

// AlertsConfig bounds the manual alert operation.
type AlertsConfig struct {
	MaxPerMinute int `json:"max_per_minute" yaml:"max_per_minute" toml:"max_per_minute"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Format           string `json:"format" yaml:"format" toml:"format"` // json, text
	Output           string `json:"output" yaml:"output" toml:"output"` // stdout, file, both
	File             string `json:"file" yaml:"file" toml:"file"`
	Level            string `json:"level" yaml:"level" toml:"level"`
	IncludeEmissions *bool  `json:"include_emissions" yaml:"include_emissions" toml:"include_emissions"` // nil = true
}

// AutostartProducer describes one producer started automatically when the
// server comes up.
type AutostartProducer struct {
	ProducerID      string         `json:"producer_id" yaml:"producer_id" toml:"producer_id"`
	Topic           string         `json:"topic" yaml:"topic" toml:"topic"`
	IntervalSeconds float64        `json:"interval_seconds" yaml:"interval_seconds" toml:"interval_seconds"`
	JitterSeconds   *float64       `json:"jitter_seconds" yaml:"jitter_seconds" toml:"jitter_seconds"`
	PayloadTemplate map[string]any `json:"payload_template" yaml:"payload_template" toml:"payload_template"`
}

// Config is the top-level feedsim configuration.
type Config struct {
	Version     int                 `json:"version" yaml:"version" toml:"version"`
	Listen      string              `json:"listen" yaml:"listen" toml:"listen"`
	Ingest      IngestConfig        `json:"ingest" yaml:"ingest" toml:"ingest"`
	Defaults    ProducerDefaults    `json:"defaults" yaml:"defaults" toml:"defaults"`
	Supervision SupervisionConfig   `json:"supervision" yaml:"supervision" toml:"supervision"`
	Alerts      AlertsConfig        `json:"alerts" yaml:"alerts" toml:"alerts"`
	Logging     LoggingConfig       `json:"logging" yaml:"logging" toml:"logging"`
	SentryDSN   string              `json:"sentry_dsn" yaml:"sentry_dsn" toml:"sentry_dsn"`
	Producers   []AutostartProducer `json:"producers" yaml:"producers" toml:"producers"`
}

// Load reads, parses, defaults, and validates a feedsim config file. The
// format is selected by extension: .yaml/.yml, .json, or .toml. FEEDSIM_*
// environment variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q: use .yaml, .yml, .json, or .toml", ext)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	// Resolve relative log file path relative to config file directory.
	if cfg.Logging.File != "" && !filepath.IsAbs(cfg.Logging.File) {
		cfg.Logging.File = filepath.Join(filepath.Dir(path), cfg.Logging.File)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a config from defaults plus FEEDSIM_* environment
// variables, for running without a config file. The result always validates.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg
}

// applyEnv overlays FEEDSIM_* environment variables. Environment wins over
// file values so tokens never have to live on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("FEEDSIM_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("FEEDSIM_INGEST_ENDPOINT"); v != "" {
		c.Ingest.Endpoint = v
	}
	if v := os.Getenv("FEEDSIM_INGEST_TOKEN"); v != "" {
		c.Ingest.Token = v
	}
	if v := os.Getenv("FEEDSIM_KAFKA_BROKERS"); v != "" {
		c.Ingest.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("FEEDSIM_TARGET_TABLE"); v != "" {
		c.Ingest.TargetTable = v
	}
	if v := os.Getenv("FEEDSIM_TOPIC"); v != "" {
		c.Defaults.Topic = v
	}
	if v := os.Getenv("FEEDSIM_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Ingest.DryRun = b
		}
	}
	if v := os.Getenv("FEEDSIM_SENTRY_DSN"); v != "" {
		c.SentryDSN = v
	}
}

// splitList parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Ingest.Transport == "" {
		c.Ingest.Transport = TransportHTTP
	}
	if c.Ingest.TargetTable == "" {
		c.Ingest.TargetTable = DefaultTargetTable
	}
	if c.Ingest.TimeoutSeconds <= 0 {
		c.Ingest.TimeoutSeconds = 10
	}
	if c.Defaults.Topic == "" {
		c.Defaults.Topic = DefaultTopic
	}
	if c.Defaults.IntervalSeconds <= 0 {
		c.Defaults.IntervalSeconds = 1.0
	}
	if c.Defaults.JitterSeconds == nil {
		c.Defaults.JitterSeconds = ptrFloat(0.5)
	}
	if c.Supervision.StopGraceSeconds <= 0 {
		c.Supervision.StopGraceSeconds = 5
	}
	if c.Supervision.MaxConsecutiveFailures < 0 {
		c.Supervision.MaxConsecutiveFailures = 0
	}
	if c.Supervision.RecentEvents <= 0 {
		c.Supervision.RecentEvents = 10
	}
	if c.Alerts.MaxPerMinute <= 0 {
		c.Alerts.MaxPerMinute = 30
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.IncludeEmissions == nil {
		c.Logging.IncludeEmissions = ptrBool(true)
	}
	for i := range c.Producers {
		if c.Producers[i].Topic == "" {
			c.Producers[i].Topic = c.Defaults.Topic
		}
		if c.Producers[i].IntervalSeconds <= 0 {
			c.Producers[i].IntervalSeconds = c.Defaults.IntervalSeconds
		}
		if c.Producers[i].JitterSeconds == nil {
			c.Producers[i].JitterSeconds = c.Defaults.JitterSeconds
		}
	}
}

// Validate checks the config for errors. Must be called after ApplyDefaults.
func (c *Config) Validate() error {
	switch c.Ingest.Transport {
	case TransportHTTP, TransportKafka:
		// valid
	default:
		return fmt.Errorf("invalid ingest transport %q: must be http or kafka", c.Ingest.Transport)
	}

	if c.Ingest.Transport == TransportKafka && !c.Ingest.DryRun && len(c.Ingest.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka transport requires at least one broker in ingest.kafka_brokers")
	}

	for _, b := range c.Ingest.KafkaBrokers {
		if _, _, err := net.SplitHostPort(b); err != nil {
			return fmt.Errorf("invalid kafka broker %q: %w", b, err)
		}
	}

	if c.Defaults.IntervalSeconds <= 0 {
		return fmt.Errorf("defaults.interval_seconds must be positive, got %g", c.Defaults.IntervalSeconds)
	}
	if j := *c.Defaults.JitterSeconds; j < 0 || j > c.Defaults.IntervalSeconds {
		return fmt.Errorf("defaults.jitter_seconds must be within [0, interval_seconds], got %g", j)
	}

	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stdout, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	seen := make(map[string]bool, len(c.Producers))
	for i, p := range c.Producers {
		if strings.TrimSpace(p.ProducerID) == "" {
			return fmt.Errorf("producers[%d]: producer_id is required", i)
		}
		if seen[p.ProducerID] {
			return fmt.Errorf("producers[%d]: duplicate producer_id %q", i, p.ProducerID)
		}
		seen[p.ProducerID] = true
		if p.IntervalSeconds <= 0 {
			return fmt.Errorf("producers[%d] (%s): interval_seconds must be positive, got %g", i, p.ProducerID, p.IntervalSeconds)
		}
		if p.JitterSeconds != nil && (*p.JitterSeconds < 0 || *p.JitterSeconds > p.IntervalSeconds) {
			return fmt.Errorf("producers[%d] (%s): jitter_seconds must be within [0, interval_seconds], got %g", i, p.ProducerID, *p.JitterSeconds)
		}
	}

	// Warn if listen address is not loopback (control endpoints exposed).
	if host, _, err := net.SplitHostPort(c.Listen); err == nil {
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			fmt.Fprintf(os.Stderr, "WARNING: listen address %s is not loopback - control endpoints (/producers, /alert) will be exposed to the network\n", c.Listen)
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			fmt.Fprintf(os.Stderr, "WARNING: listen address %s binds to all interfaces - consider using 127.0.0.1 for local-only access\n", c.Listen)
		}
	}

	return nil
}

// ReloadWarning describes a reload change that cannot take effect without a
// restart.
type ReloadWarning struct {
	Field   string
	Message string
}

// ValidateReload compares old and new configs and returns warnings for
// changes to settings fixed at startup. Warnings don't block the reload;
// hot-applicable settings (defaults, supervision, alerts, logging level)
// still take effect.
func ValidateReload(old, updated *Config) []ReloadWarning {
	var warnings []ReloadWarning

	if old.Listen != updated.Listen {
		warnings = append(warnings, ReloadWarning{
			Field:   "listen",
			Message: fmt.Sprintf("listen address changed from %s to %s: restart required", old.Listen, updated.Listen),
		})
	}
	if old.Ingest.Transport != updated.Ingest.Transport {
		warnings = append(warnings, ReloadWarning{
			Field:   "ingest.transport",
			Message: fmt.Sprintf("ingest transport changed from %s to %s: restart required", old.Ingest.Transport, updated.Ingest.Transport),
		})
	}
	if old.Ingest.Endpoint != updated.Ingest.Endpoint {
		warnings = append(warnings, ReloadWarning{
			Field:   "ingest.endpoint",
			Message: "ingest endpoint changed: restart required",
		})
	}
	if strings.Join(old.Ingest.KafkaBrokers, ",") != strings.Join(updated.Ingest.KafkaBrokers, ",") {
		warnings = append(warnings, ReloadWarning{
			Field:   "ingest.kafka_brokers",
			Message: "kafka broker list changed: restart required",
		})
	}
	if old.DryRunActive() != updated.DryRunActive() {
		warnings = append(warnings, ReloadWarning{
			Field:   "ingest.dry_run",
			Message: "dry-run state changed: restart required",
		})
	}
	if old.Logging.Output != updated.Logging.Output || old.Logging.File != updated.Logging.File {
		warnings = append(warnings, ReloadWarning{
			Field:   "logging",
			Message: "logging destination changed: restart required",
		})
	}

	return warnings
}

// Defaults returns the built-in default configuration.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// DryRunActive reports whether the record-only sink is in effect: dry-run
// explicitly requested, or the selected transport left unconfigured.
func (c *Config) DryRunActive() bool {
	if c.Ingest.DryRun {
		return true
	}
	switch c.Ingest.Transport {
	case TransportHTTP:
		return c.Ingest.Endpoint == ""
	case TransportKafka:
		return len(c.Ingest.KafkaBrokers) == 0
	}
	return true
}

// StopGrace returns the producer stop grace period as a duration.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Supervision.StopGraceSeconds * float64(time.Second))
}

// IngestTimeout returns the per-request sink deadline as a duration.
func (c *Config) IngestTimeout() time.Duration {
	return time.Duration(c.Ingest.TimeoutSeconds * float64(time.Second))
}

func ptrBool(v bool) *bool { return &v }

func ptrFloat(v float64) *float64 { return &v }
