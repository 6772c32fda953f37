// Package sink implements the emission boundary to the downstream ingestion
// system: the Sink contract, the event envelope, and the interchangeable
// transport implementations (dry-run, HTTP, Kafka).
package sink

import (
	"context"
	"errors"
)

// Sink is the interface to the downstream ingestion system.
// Implementations must be safe for concurrent use; producer loops call
// Submit independently without external synchronization.
type Sink interface {
	// Submit delivers a batch of events for the given topic and target table.
	// The returned Ack describes what was delivered. Errors are classified
	// only via Permanent; causes stay in the error text.
	Submit(ctx context.Context, topic, target string, events []Event) (Ack, error)

	// Close flushes pending work and releases resources.
	Close() error
}

// Ack reports what a successful Submit delivered.
type Ack struct {
	Sent   int
	DryRun bool
	Detail string
}

// permanentError marks a Submit failure that the next cycle cannot fix by
// retrying (bad credentials, rejected schema).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// MarkPermanent wraps err so that Permanent reports true for it.
// Returns nil if err is nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanent reports whether err was marked as not retryable. The zero
// classification is retryable: a plain error means the next cycle may succeed.
func Permanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
