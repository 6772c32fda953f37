// Package logging provides structured JSON logging for all feedsim events.
package logging

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Producer ids and alert messages arrive from the API
// unfiltered, so a crafted value could otherwise inject terminal escapes into
// anyone tailing the log (e.g., \x1b[2J to clear the screen).
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		// Allow tabs and newlines but strip other control chars.
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of log event.
type EventType string

// Event type constants for structured log entries.
const (
	EventProducerStarted EventType = "producer_started"
	EventProducerStopped EventType = "producer_stopped"
	EventStopTimeout     EventType = "stop_timeout"
	EventProducerFailed  EventType = "producer_failed"
	EventEmitted         EventType = "emitted"
	EventEmitFailed      EventType = "emit_failed"
	EventDryRunBatch     EventType = "dry_run_batch"
	EventAlert           EventType = "alert"
	EventConfigReload    EventType = "config_reload"
)

// Logger handles structured logging using zerolog.
type Logger struct {
	zl               zerolog.Logger
	includeEmissions bool
	fileHandle       *os.File // non-nil if logging to file
}

// New creates a new logger. The caller should call Close when done.
// includeEmissions controls whether per-emission events (emitted, dry-run
// batches) are logged; lifecycle and failure events are always logged.
func New(format, output, filePath, level string, includeEmissions bool) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("component", "feedsim").
		Logger()

	return &Logger{
		zl:               zl,
		includeEmissions: includeEmissions,
		fileHandle:       fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl: zerolog.Nop(),
	}
}

// LogProducerStarted logs a producer loop spawn.
func (l *Logger) LogProducerStarted(producerID, topic string, interval, jitter time.Duration) {
	l.zl.Info().
		Str("event", string(EventProducerStarted)).
		Str("producer_id", sanitizeString(producerID)).
		Str("topic", sanitizeString(topic)).
		Dur("interval_ms", interval).
		Dur("jitter_ms", jitter).
		Msg("producer started")
}

// LogProducerStopped logs a confirmed producer termination.
func (l *Logger) LogProducerStopped(producerID string, sequence uint64, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventProducerStopped)).
		Str("producer_id", sanitizeString(producerID)).
		Uint64("sequence", sequence).
		Dur("duration_ms", duration).
		Msg("producer stopped")
}

// LogStopTimeout logs a stop whose loop did not acknowledge within the grace period.
func (l *Logger) LogStopTimeout(producerID string, grace time.Duration) {
	l.zl.Warn().
		Str("event", string(EventStopTimeout)).
		Str("producer_id", sanitizeString(producerID)).
		Dur("grace_ms", grace).
		Msg("producer did not stop within grace period, abandoned")
}

// LogProducerFailed logs a loop that terminated on an unrecoverable fault.
func (l *Logger) LogProducerFailed(producerID string, sequence uint64, detail string) {
	l.zl.Error().
		Str("event", string(EventProducerFailed)).
		Str("producer_id", sanitizeString(producerID)).
		Uint64("sequence", sequence).
		Str("detail", sanitizeString(detail)).
		Msg("producer loop failed")
}

// LogEmitted logs one successful emission cycle.
func (l *Logger) LogEmitted(producerID, topic string, sequence uint64, duration time.Duration) {
	if !l.includeEmissions {
		return
	}
	l.zl.Debug().
		Str("event", string(EventEmitted)).
		Str("producer_id", sanitizeString(producerID)).
		Str("topic", sanitizeString(topic)).
		Uint64("sequence", sequence).
		Dur("duration_ms", duration).
		Msg("event emitted")
}

// LogEmitFailed logs a sink failure for one emission cycle. The loop keeps running.
func (l *Logger) LogEmitFailed(producerID, topic string, sequence uint64, permanent bool, err error) {
	l.zl.Warn().
		Str("event", string(EventEmitFailed)).
		Str("producer_id", sanitizeString(producerID)).
		Str("topic", sanitizeString(topic)).
		Uint64("sequence", sequence).
		Bool("permanent", permanent).
		Err(err).
		Msg("emission failed")
}

// LogDryRunBatch logs a batch recorded by the dry-run sink instead of transmitted.
func (l *Logger) LogDryRunBatch(topic, target string, count int) {
	if !l.includeEmissions {
		return
	}
	l.zl.Info().
		Str("event", string(EventDryRunBatch)).
		Str("topic", sanitizeString(topic)).
		Str("target", sanitizeString(target)).
		Int("count", count).
		Msg("dry run, batch recorded")
}

// LogAlert logs a manual alert submission.
func (l *Logger) LogAlert(producerID, topic, severity, message string, accepted bool) {
	l.zl.Info().
		Str("event", string(EventAlert)).
		Str("producer_id", sanitizeString(producerID)).
		Str("topic", sanitizeString(topic)).
		Str("severity", severity).
		Str("message", sanitizeString(message)).
		Bool("accepted", accepted).
		Msg("manual alert")
}

// LogStreamError logs an unexpected failure writing to a stream subscriber.
// Normal disconnects are filtered out by the caller.
func (l *Logger) LogStreamError(remoteAddr string, err error) {
	l.zl.Warn().
		Str("event", "stream_error").
		Str("remote_addr", sanitizeString(remoteAddr)).
		Err(err).
		Msg("event stream write failed")
}

// LogConfigReload logs a configuration reload event.
func (l *Logger) LogConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventConfigReload)).
		Str("status", status).
		Str("detail", detail).
		Msg("configuration reloaded")
}

// LogStartup logs that the daemon has started.
func (l *Logger) LogStartup(listenAddr, transport string, dryRun bool) {
	l.zl.Info().
		Str("event", "startup").
		Str("listen", listenAddr).
		Str("transport", transport).
		Bool("dry_run", dryRun).
		Msg("feedsim started")
}

// LogShutdown logs that the daemon is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("feedsim stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle and config but
// does NOT own the file, so only the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:               l.zl.With().Str(key, value).Logger(),
		includeEmissions: l.includeEmissions,
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
