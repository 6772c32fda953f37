package sink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/feedsim/feedsim/internal/logging"
)

// LogSink records batches through the logger instead of transmitting them.
// Selected in dry-run mode or when no ingest credentials are configured.
type LogSink struct {
	log  *logging.Logger
	sent atomic.Int64
}

// NewLogSink creates a dry-run sink that logs each batch.
func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log}
}

// Submit records the batch and acknowledges it without transmitting anything.
func (s *LogSink) Submit(_ context.Context, topic, target string, events []Event) (Ack, error) {
	s.sent.Add(int64(len(events)))
	s.log.LogDryRunBatch(topic, target, len(events))
	return Ack{
		Sent:   len(events),
		DryRun: true,
		Detail: fmt.Sprintf("dry run: recorded %d event(s) for topic %q", len(events), topic),
	}, nil
}

// Sent returns the total number of events recorded since construction.
func (s *LogSink) Sent() int64 {
	return s.sent.Load()
}

// Close is a no-op; the sink holds no resources.
func (s *LogSink) Close() error {
	return nil
}
