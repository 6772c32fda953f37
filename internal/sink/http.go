package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default values for HTTPSink configuration.
const (
	DefaultHTTPTimeout = 10 * time.Second

	// maxDetailBytes caps how much of an error response body is surfaced.
	maxDetailBytes = 512
)

// ingestPayload is the JSON structure POSTed to the ingest endpoint.
type ingestPayload struct {
	Topic       string  `json:"topic"`
	TargetTable string  `json:"target_table"`
	Events      []Event `json:"events"`
}

// HTTPSink transmits event batches as JSON to an HTTP ingest endpoint.
// Each Submit is one synchronous POST; the caller decides what a failure
// means for its cycle.
type HTTPSink struct {
	endpoint string
	token    string // optional bearer token
	client   *http.Client
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHTTPTimeout sets the HTTP client timeout for each POST.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSink) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// WithBearerToken sets the Authorization: Bearer header value.
func WithBearerToken(tok string) HTTPOption {
	return func(s *HTTPSink) {
		s.token = tok
	}
}

// NewHTTPSink creates a sink that POSTs batches to the given endpoint URL.
func NewHTTPSink(endpoint string, opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit POSTs the batch. Client errors (4xx) are marked permanent since the
// request will not get better by itself; server and transport errors are left
// retryable for the next cycle.
func (s *HTTPSink) Submit(ctx context.Context, topic, target string, events []Event) (Ack, error) {
	body, err := json.Marshal(ingestPayload{
		Topic:       topic,
		TargetTable: target,
		Events:      events,
	})
	if err != nil {
		return Ack{}, MarkPermanent(fmt.Errorf("encoding batch: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Ack{}, MarkPermanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best effort

	if resp.StatusCode >= 300 {
		detail := readDetail(resp.Body)
		err := fmt.Errorf("ingest endpoint returned HTTP %d: %s", resp.StatusCode, detail)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return Ack{}, MarkPermanent(err)
		}
		return Ack{}, err
	}

	return Ack{
		Sent:   len(events),
		Detail: fmt.Sprintf("HTTP %d", resp.StatusCode),
	}, nil
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// readDetail reads a bounded, single-line slice of an error response body.
func readDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxDetailBytes))
	if err != nil || len(b) == 0 {
		return "(no body)"
	}
	return strings.Join(strings.Fields(string(b)), " ")
}
