package sink

import "context"

// Recorder receives events the transport sink accepted. Implementations must
// not block; a slow observer must never stall an emission cycle.
type Recorder interface {
	Record(Event)
}

// Tee wraps a transport sink and mirrors every accepted batch to a Recorder,
// feeding the recent-events view and the live stream without touching the
// delivery path's semantics.
type Tee struct {
	next Sink
	rec  Recorder
}

// NewTee wraps next so that accepted events are also handed to rec.
func NewTee(next Sink, rec Recorder) *Tee {
	return &Tee{next: next, rec: rec}
}

// Submit forwards to the wrapped sink and records the batch only on success,
// so observers see delivered events, not attempts.
func (t *Tee) Submit(ctx context.Context, topic, target string, events []Event) (Ack, error) {
	ack, err := t.next.Submit(ctx, topic, target, events)
	if err != nil {
		return ack, err
	}
	for _, ev := range events {
		t.rec.Record(ev)
	}
	return ack, nil
}

// Close closes the wrapped sink.
func (t *Tee) Close() error {
	return t.next.Close()
}
