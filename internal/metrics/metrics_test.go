package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordEmission(t *testing.T) {
	m := New()
	m.RecordEmission("telemetry", 10*time.Millisecond)
	m.RecordEmission("telemetry", 20*time.Millisecond)
	m.RecordEmission("audit", 5*time.Millisecond)

	m.mu.Lock()
	if m.sentCount != 3 {
		t.Errorf("expected 3 sent, got %d", m.sentCount)
	}
	if m.topTopics["telemetry"] != 2 {
		t.Errorf("expected telemetry=2, got %d", m.topTopics["telemetry"])
	}
	m.mu.Unlock()
}

func TestRecordEmissionError(t *testing.T) {
	m := New()
	m.RecordEmissionError(10 * time.Millisecond)

	m.mu.Lock()
	if m.failedCount != 1 {
		t.Errorf("expected 1 failed, got %d", m.failedCount)
	}
	m.mu.Unlock()
}

func TestRecordProducerStop(t *testing.T) {
	m := New()
	m.RecordProducerStop(StopStopped)
	m.RecordProducerStop(StopStopped)
	m.RecordProducerStop(StopAbandoned)
	m.RecordProducerStop(StopFailed)

	m.mu.Lock()
	if m.stopCounts[StopStopped] != 2 {
		t.Errorf("expected stopped=2, got %d", m.stopCounts[StopStopped])
	}
	if m.stopCounts[StopAbandoned] != 1 {
		t.Errorf("expected abandoned=1, got %d", m.stopCounts[StopAbandoned])
	}
	if m.stopCounts[StopFailed] != 1 {
		t.Errorf("expected failed=1, got %d", m.stopCounts[StopFailed])
	}
	m.mu.Unlock()
}

func TestActiveProducersGauge(t *testing.T) {
	m := New()
	m.IncrActiveProducers()
	m.IncrActiveProducers()
	m.DecrActiveProducers()

	m.mu.Lock()
	if m.activeCount != 1 {
		t.Errorf("expected active=1, got %d", m.activeCount)
	}
	m.mu.Unlock()
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.RecordEmission("telemetry", 10*time.Millisecond)
	m.RecordEmissionError(5 * time.Millisecond)
	m.RecordProducerStarted()
	m.IncrActiveProducers()
	m.RecordAlert(true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	body, _ := io.ReadAll(w.Body)
	text := string(body)

	if !strings.Contains(text, "feedsim_emissions_total") {
		t.Error("expected feedsim_emissions_total in /metrics output")
	}
	if !strings.Contains(text, `result="ok"`) {
		t.Error("expected ok label in /metrics output")
	}
	if !strings.Contains(text, `result="error"`) {
		t.Error("expected error label in /metrics output")
	}
	if !strings.Contains(text, "feedsim_emission_duration_seconds") {
		t.Error("expected feedsim_emission_duration_seconds in /metrics output")
	}
	if !strings.Contains(text, "feedsim_active_producers") {
		t.Error("expected feedsim_active_producers in /metrics output")
	}
	if !strings.Contains(text, "feedsim_alerts_total") {
		t.Error("expected feedsim_alerts_total in /metrics output")
	}
}

func TestStatsHandler(t *testing.T) {
	m := New()
	m.RecordEmission("telemetry", 10*time.Millisecond)
	m.RecordEmission("audit", 10*time.Millisecond)
	m.RecordEmissionError(5 * time.Millisecond)
	m.RecordProducerStarted()
	m.IncrActiveProducers()
	m.RecordProducerStop(StopStopped)
	m.RecordAlert(true)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats JSON: %v", err)
	}

	if stats.Emissions.Total != 3 {
		t.Errorf("expected total=3, got %d", stats.Emissions.Total)
	}
	if stats.Emissions.Sent != 2 {
		t.Errorf("expected sent=2, got %d", stats.Emissions.Sent)
	}
	if stats.Emissions.Failed != 1 {
		t.Errorf("expected failed=1, got %d", stats.Emissions.Failed)
	}
	wantRate := 1.0 / 3.0
	if stats.Emissions.FailRate < wantRate-0.01 || stats.Emissions.FailRate > wantRate+0.01 {
		t.Errorf("expected fail_rate ~%.2f, got %f", wantRate, stats.Emissions.FailRate)
	}
	if stats.Producers.Started != 1 || stats.Producers.Active != 1 || stats.Producers.Stopped != 1 {
		t.Errorf("unexpected producer stats: %+v", stats.Producers)
	}
	if stats.Alerts != 1 {
		t.Errorf("expected alerts=1, got %d", stats.Alerts)
	}
	if stats.UptimeSeconds <= 0 {
		t.Error("expected positive uptime")
	}
	if len(stats.TopTopics) != 2 {
		t.Errorf("expected 2 top topics, got %d", len(stats.TopTopics))
	}
	if stats.TopTopics[0].Name != "telemetry" && stats.TopTopics[1].Name != "telemetry" {
		t.Error("expected telemetry in top topics")
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.RecordEmission("topic", time.Millisecond)
				m.RecordEmissionError(time.Millisecond)
				m.IncrActiveProducers()
				m.DecrActiveProducers()
			}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sentCount != 400 {
		t.Errorf("expected 400 sent, got %d", m.sentCount)
	}
	if m.failedCount != 400 {
		t.Errorf("expected 400 failed, got %d", m.failedCount)
	}
	if m.activeCount != 0 {
		t.Errorf("expected active=0, got %d", m.activeCount)
	}
}
