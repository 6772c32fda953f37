package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/feedsim/feedsim/internal/config"
	"github.com/feedsim/feedsim/internal/logging"
	"github.com/feedsim/feedsim/internal/sink"
)

// execute runs the root command with args, capturing cobra's output. Output
// written directly to stdout by subcommands is not captured; these tests
// assert on errors and cobra-managed output only.
func execute(args ...string) (string, error) {
	cmd := rootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute("version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "feedsim version") {
		t.Errorf("output missing version line: %q", out)
	}
	if !strings.Contains(out, "go version") {
		t.Errorf("output missing go version line: %q", out)
	}
}

func TestCheckValidConfig(t *testing.T) {
	path := writeConfig(t, "feedsim.yaml", `
listen: "127.0.0.1:9900"
defaults:
  topic: orders
  interval_seconds: 2.5
producers:
  - producer_id: auto-1
`)
	if _, err := execute("check", "--config", path); err != nil {
		t.Fatalf("check on valid config: %v", err)
	}
}

func TestCheckInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad transport", "ingest:\n  transport: carrier-pigeon\n"},
		{"jitter above interval", "defaults:\n  interval_seconds: 1\n  jitter_seconds: 5\n"},
		{"duplicate autostart", "producers:\n  - producer_id: a\n  - producer_id: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "feedsim.yaml", tt.content)
			if _, err := execute("check", "--config", path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestCheckWithoutConfig(t *testing.T) {
	if _, err := execute("check"); err != nil {
		t.Fatalf("check without config: %v", err)
	}
}

func TestAlertDryRun(t *testing.T) {
	// Default config has no ingest credentials, so the alert goes through
	// the record-only sink and is always accepted.
	if _, err := execute("alert", "--message", "test alert", "--severity", "info"); err != nil {
		t.Fatalf("alert: %v", err)
	}
}

func TestAlertRequiresMessage(t *testing.T) {
	if _, err := execute("alert"); err == nil {
		t.Error("expected error for missing --message")
	}
}

func TestBuildSinkSelection(t *testing.T) {
	log := logging.NewNop()

	t.Run("dry run default", func(t *testing.T) {
		cfg := config.Defaults()
		if _, ok := buildSink(cfg, log).(*sink.LogSink); !ok {
			t.Error("default config should build a LogSink")
		}
	})

	t.Run("http with endpoint", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Ingest.Endpoint = "https://ingest.example.com/v1"
		cfg.Ingest.Token = "tok"
		if _, ok := buildSink(cfg, log).(*sink.HTTPSink); !ok {
			t.Error("endpoint config should build an HTTPSink")
		}
	})

	t.Run("explicit dry run wins", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Ingest.Endpoint = "https://ingest.example.com/v1"
		cfg.Ingest.DryRun = true
		if _, ok := buildSink(cfg, log).(*sink.LogSink); !ok {
			t.Error("dry_run: true should force the LogSink")
		}
	})

	t.Run("kafka", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Ingest.Transport = config.TransportKafka
		cfg.Ingest.KafkaBrokers = []string{"localhost:9092"}
		s := buildSink(cfg, log)
		ks, ok := s.(*sink.KafkaSink)
		if !ok {
			t.Fatal("kafka config should build a KafkaSink")
		}
		_ = ks.Close()
	})
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("FEEDSIM_TOPIC", "env-topic")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Defaults.Topic != "env-topic" {
		t.Errorf("topic = %q, want env-topic", cfg.Defaults.Topic)
	}
}

func TestRootUnknownCommand(t *testing.T) {
	if _, err := execute("bogus"); err == nil {
		t.Error("expected error for unknown command")
	}
}
