package sink

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity represents the importance level of an alert event.
type Severity int

const (
	SeverityDebug    Severity = iota // Diagnostic noise
	SeverityInfo                     // Normal operations
	SeverityWarning                  // Worth investigating
	SeverityError                    // Something broke
	SeverityCritical                 // Needs immediate attention
)

// String returns the lowercase string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "warning"
	}
}

// ParseSeverity converts a string to a Severity level. The comparison is
// case-insensitive. Returns SeverityWarning for unrecognized values, the
// default level for manual alerts.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "debug":
		return SeverityDebug
	case "info":
		return SeverityInfo
	case "error":
		return SeverityError
	case "critical":
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Event type values carried in the envelope.
const (
	TypeTick  = "tick"
	TypeAlert = "alert"
)

// Event is one emission envelope. Never mutated after construction; owned
// solely by the Submit call that carries it.
type Event struct {
	EventID    string         `json:"event_id"`
	ProducerID string         `json:"producer_id"`
	Type       string         `json:"event_type"`
	Sequence   int64          `json:"sequence"` // -1 for alerts
	EventTime  time.Time      `json:"event_time"`
	Payload    map[string]any `json:"payload"`
}

// NewTick builds a periodic producer event. The payload starts from the
// computed fields (sequence, producer_id, observed_at) and is then overlaid
// with the template, so template keys win on conflict.
func NewTick(producerID string, sequence uint64, template map[string]any) Event {
	now := time.Now().UTC()
	payload := map[string]any{
		"sequence":    sequence,
		"producer_id": producerID,
		"observed_at": now.Format(time.RFC3339Nano),
	}
	for k, v := range template {
		payload[k] = v
	}
	return Event{
		EventID:    uuid.NewString(),
		ProducerID: producerID,
		Type:       TypeTick,
		Sequence:   int64(sequence), //nolint:gosec // G115: sequence counts emissions, far below int64 range
		EventTime:  now,
		Payload:    payload,
	}
}

// NewAlert builds an ad-hoc alert event. Alerts are not tied to any producer
// loop's sequence; the envelope and payload carry sequence -1.
func NewAlert(producerID, message string, severity Severity) Event {
	now := time.Now().UTC()
	return Event{
		EventID:    uuid.NewString(),
		ProducerID: producerID,
		Type:       TypeAlert,
		Sequence:   -1,
		EventTime:  now,
		Payload: map[string]any{
			"sequence":    -1,
			"producer_id": producerID,
			"observed_at": now.Format(time.RFC3339Nano),
			"severity":    severity.String(),
			"message":     message,
		},
	}
}
