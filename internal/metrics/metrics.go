// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the feedsim daemon.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTopEntries = 100

// Stop result label values for the producer stop counter.
const (
	StopStopped   = "stopped"
	StopAbandoned = "abandoned"
	StopFailed    = "failed"
)

// Metrics collects Prometheus counters and histograms for producers,
// emissions, and alerts.
type Metrics struct {
	registry *prometheus.Registry

	emissionsTotal  *prometheus.CounterVec
	emissionLatency prometheus.Histogram

	producersStarted prometheus.Counter
	producerStops    *prometheus.CounterVec
	activeProducers  prometheus.Gauge

	alertsTotal *prometheus.CounterVec

	mu           sync.Mutex
	startTime    time.Time
	topTopics    map[string]int64
	sentCount    int64
	failedCount  int64
	startedCount int64
	stopCounts   map[string]int64
	activeCount  int64
	alertCount   int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	emissionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsim",
		Name:      "emissions_total",
		Help:      "Total emission attempts by result.",
	}, []string{"result"})

	emissionLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feedsim",
		Name:      "emission_duration_seconds",
		Help:      "Sink submit latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	producersStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedsim",
		Name:      "producers_started_total",
		Help:      "Total producer loops spawned.",
	})

	producerStops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsim",
		Name:      "producer_stops_total",
		Help:      "Total producer terminations by result.",
	}, []string{"result"})

	activeProducers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedsim",
		Name:      "active_producers",
		Help:      "Current number of running producer loops.",
	})

	alertsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsim",
		Name:      "alerts_total",
		Help:      "Total manual alerts by result.",
	}, []string{"result"})

	reg.MustRegister(emissionsTotal, emissionLatency,
		producersStarted, producerStops, activeProducers, alertsTotal)

	return &Metrics{
		registry:         reg,
		emissionsTotal:   emissionsTotal,
		emissionLatency:  emissionLatency,
		producersStarted: producersStarted,
		producerStops:    producerStops,
		activeProducers:  activeProducers,
		alertsTotal:      alertsTotal,
		startTime:        time.Now(),
		topTopics:        make(map[string]int64),
		stopCounts:       make(map[string]int64),
	}
}

// RecordEmission records a successful emission cycle for the given topic.
func (m *Metrics) RecordEmission(topic string, duration time.Duration) {
	m.emissionsTotal.WithLabelValues("ok").Inc()
	m.emissionLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.sentCount++
	if len(m.topTopics) < maxTopEntries {
		m.topTopics[topic]++
	} else if _, exists := m.topTopics[topic]; exists {
		m.topTopics[topic]++
	}
	m.mu.Unlock()
}

// RecordEmissionError records a failed emission cycle.
func (m *Metrics) RecordEmissionError(duration time.Duration) {
	m.emissionsTotal.WithLabelValues("error").Inc()
	m.emissionLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.failedCount++
	m.mu.Unlock()
}

// RecordProducerStarted records a new producer loop spawn.
func (m *Metrics) RecordProducerStarted() {
	m.producersStarted.Inc()

	m.mu.Lock()
	m.startedCount++
	m.mu.Unlock()
}

// RecordProducerStop records a producer termination with its result label
// (StopStopped, StopAbandoned, or StopFailed).
func (m *Metrics) RecordProducerStop(result string) {
	m.producerStops.WithLabelValues(result).Inc()

	m.mu.Lock()
	m.stopCounts[result]++
	m.mu.Unlock()
}

// IncrActiveProducers increments the active producer gauge.
func (m *Metrics) IncrActiveProducers() {
	m.activeProducers.Inc()

	m.mu.Lock()
	m.activeCount++
	m.mu.Unlock()
}

// DecrActiveProducers decrements the active producer gauge.
func (m *Metrics) DecrActiveProducers() {
	m.activeProducers.Dec()

	m.mu.Lock()
	m.activeCount--
	m.mu.Unlock()
}

// RecordAlert records a manual alert attempt.
func (m *Metrics) RecordAlert(accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.alertsTotal.WithLabelValues(result).Inc()

	m.mu.Lock()
	m.alertCount++
	m.mu.Unlock()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.sentCount + m.failedCount
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Emissions: emissionStats{
				Total:  total,
				Sent:   m.sentCount,
				Failed: m.failedCount,
			},
			Producers: producerStats{
				Active:    m.activeCount,
				Started:   m.startedCount,
				Stopped:   m.stopCounts[StopStopped],
				Abandoned: m.stopCounts[StopAbandoned],
				Failed:    m.stopCounts[StopFailed],
			},
			Alerts:    m.alertCount,
			TopTopics: topN(m.topTopics),
		}
		if total > 0 {
			stats.Emissions.FailRate = float64(m.failedCount) / float64(total)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	Emissions     emissionStats `json:"emissions"`
	Producers     producerStats `json:"producers"`
	Alerts        int64         `json:"alerts"`
	TopTopics     []rankedEntry `json:"top_topics"`
}

type emissionStats struct {
	Total    int64   `json:"total"`
	Sent     int64   `json:"sent"`
	Failed   int64   `json:"failed"`
	FailRate float64 `json:"fail_rate"`
}

type producerStats struct {
	Active    int64 `json:"active"`
	Started   int64 `json:"started"`
	Stopped   int64 `json:"stopped"`
	Abandoned int64 `json:"abandoned"`
	Failed    int64 `json:"failed"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
