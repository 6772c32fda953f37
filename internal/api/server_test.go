package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feedsim/feedsim/internal/config"
	"github.com/feedsim/feedsim/internal/logging"
	"github.com/feedsim/feedsim/internal/metrics"
	"github.com/feedsim/feedsim/internal/producer"
	"github.com/feedsim/feedsim/internal/sink"
	"github.com/feedsim/feedsim/internal/stream"
)

// newTestServer builds a server on a dry-run sink with fast supervision
// timings. The registry and hub are torn down with the test.
func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Supervision.StopGraceSeconds = 2
	if mutate != nil {
		mutate(cfg)
	}

	log := logging.NewNop()
	m := metrics.New()
	hub := stream.NewHub(16)
	snk := sink.NewTee(sink.NewLogSink(log), hub)
	reg := producer.New(cfg, snk, log, m)

	s := New(cfg, reg, hub, m, log)
	ts := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		ts.Close()
		reg.Close()
		hub.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		DryRun bool   `json:"dry_run"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if !body.DryRun {
		t.Error("dry_run = false, want true for default config")
	}
}

func TestStartListStop(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/producers", `{"producer_id": "web-1", "interval_seconds": 5}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}
	var snap producer.Snapshot
	decodeBody(t, resp, &snap)
	if snap.ProducerID != "web-1" {
		t.Errorf("producer_id = %q, want web-1", snap.ProducerID)
	}
	if snap.Status != producer.StatusRunning {
		t.Errorf("status = %q, want running", snap.Status)
	}

	resp, err := http.Get(ts.URL + "/api/producers")
	if err != nil {
		t.Fatalf("GET /api/producers: %v", err)
	}
	var list listResponse
	decodeBody(t, resp, &list)
	if list.Count != 1 || len(list.Producers) != 1 {
		t.Fatalf("list count = %d (%d entries), want 1", list.Count, len(list.Producers))
	}
	if list.Producers[0].ProducerID != "web-1" {
		t.Errorf("listed id = %q, want web-1", list.Producers[0].ProducerID)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/producers/web-1", nil)
	if err != nil {
		t.Fatalf("building DELETE: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	var stopped struct {
		ProducerID string `json:"producer_id"`
		Status     string `json:"status"`
	}
	decodeBody(t, resp, &stopped)
	if stopped.Status != "stopped" {
		t.Errorf("stop status field = %q, want stopped", stopped.Status)
	}

	resp, err = http.Get(ts.URL + "/api/producers")
	if err != nil {
		t.Fatalf("GET after stop: %v", err)
	}
	decodeBody(t, resp, &list)
	if list.Count != 0 {
		t.Errorf("list count after stop = %d, want 0", list.Count)
	}
}

func TestErrorMapping(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// Seed one running producer for the conflict case.
	resp := postJSON(t, ts.URL+"/api/producers", `{"producer_id": "dup", "interval_seconds": 5}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed start status = %d, want 201", resp.StatusCode)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing id", http.MethodPost, "/api/producers", `{"topic": "t"}`, http.StatusBadRequest},
		{"bad interval", http.MethodPost, "/api/producers", `{"producer_id": "x", "interval_seconds": 0}`, http.StatusBadRequest},
		{"negative jitter", http.MethodPost, "/api/producers", `{"producer_id": "x", "interval_seconds": 1, "jitter_seconds": -1}`, http.StatusBadRequest},
		{"jitter above interval", http.MethodPost, "/api/producers", `{"producer_id": "x", "interval_seconds": 1, "jitter_seconds": 2}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/producers", `{"producer_id": "x", "bogus": true}`, http.StatusBadRequest},
		{"trailing data", http.MethodPost, "/api/producers", `{"producer_id": "x"}{"again": 1}`, http.StatusBadRequest},
		{"already running", http.MethodPost, "/api/producers", `{"producer_id": "dup"}`, http.StatusConflict},
		{"stop unknown", http.MethodDelete, "/api/producers/ghost", "", http.StatusNotFound},
		{"alert missing message", http.MethodPost, "/api/alert", `{"severity": "info"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("building request: %v", err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body.Error == "" {
				t.Error("error body has empty message")
			}
			if body.Code != tt.want {
				t.Errorf("error code = %d, want %d", body.Code, tt.want)
			}
		})
	}
}

func TestAlertAccepted(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/alert", `{"message": "disk filling", "severity": "critical"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alert status = %d, want 200", resp.StatusCode)
	}
	var res producer.EmissionResult
	decodeBody(t, resp, &res)
	if !res.Accepted {
		t.Errorf("accepted = false, want true; detail: %s", res.Detail)
	}
	if res.Detail == "" {
		t.Error("detail is empty")
	}
}

func TestAlertRateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Alerts.MaxPerMinute = 2
	})

	var last int
	for i := range 3 {
		resp := postJSON(t, ts.URL+"/api/alert", fmt.Sprintf(`{"message": "m%d"}`, i))
		last = resp.StatusCode
		_ = resp.Body.Close()
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third alert status = %d, want 429", last)
	}
}

func TestApplyConfigUpdatesAlertLimit(t *testing.T) {
	s, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Alerts.MaxPerMinute = 1
	})

	resp := postJSON(t, ts.URL+"/api/alert", `{"message": "first"}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first alert status = %d, want 200", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/api/alert", `{"message": "second"}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second alert status = %d, want 429", resp.StatusCode)
	}

	bigger := config.Defaults()
	bigger.Alerts.MaxPerMinute = 100
	s.ApplyConfig(bigger)

	resp = postJSON(t, ts.URL+"/api/alert", `{"message": "after reload"}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("alert after reload status = %d, want 200", resp.StatusCode)
	}
}

func TestRecentEvents(t *testing.T) {
	s, ts := newTestServer(t, nil)

	for i := range 3 {
		s.hub.Record(sink.NewTick("p", uint64(i+1), nil)) //nolint:gosec // small loop index
	}

	resp, err := http.Get(ts.URL + "/api/events/recent")
	if err != nil {
		t.Fatalf("GET /api/events/recent: %v", err)
	}
	var body recentResponse
	decodeBody(t, resp, &body)
	if body.Count != 3 {
		t.Errorf("count = %d, want 3", body.Count)
	}
	for i, ev := range body.Events {
		if ev.Sequence != int64(i+1) {
			t.Errorf("events[%d].sequence = %d, want %d (oldest first)", i, ev.Sequence, i+1)
		}
	}
}

func TestStatsAndMetricsEndpoints(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/api/stats status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("/api/stats content-type = %q, want application/json", ct)
	}

	resp2, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp2.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp2.Body); err != nil {
		t.Fatalf("reading /metrics body: %v", err)
	}
	if !strings.Contains(buf.String(), "feedsim_active_producers") {
		t.Error("/metrics output missing feedsim_active_producers")
	}
}

func TestStartIsAsync(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// A producer with a long interval must return immediately; the handler
	// never waits for the first emission.
	start := time.Now()
	resp := postJSON(t, ts.URL+"/api/producers", `{"producer_id": "slow", "interval_seconds": 60}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("start took %s, want immediate return", elapsed)
	}
}
