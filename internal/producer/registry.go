// Package producer implements the supervision core: a concurrency-safe
// registry of independently timed event producer loops sharing one sink.
package producer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feedsim/feedsim/internal/config"
	"github.com/feedsim/feedsim/internal/logging"
	"github.com/feedsim/feedsim/internal/metrics"
	"github.com/feedsim/feedsim/internal/sink"
)

// AlertProducerID labels ad-hoc alert events that no running loop owns.
const AlertProducerID = "manual-alert"

// Status is the lifecycle state of a producer.
type Status string

// Producer lifecycle states. A producer leaves running only for stopping
// (operator stop) or failed (unrecoverable fault); both paths end with the
// record removed from the registry.
const (
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
)

// StartRequest carries the parameters for starting one producer. Nil numeric
// fields and the empty topic take the registry defaults.
type StartRequest struct {
	ProducerID      string
	Topic           string
	IntervalSeconds *float64
	JitterSeconds   *float64
	PayloadTemplate map[string]any
}

// AlertRequest carries the parameters for an ad-hoc alert event.
type AlertRequest struct {
	Message    string
	Severity   string
	Topic      string
	ProducerID string
}

// EmissionResult reports the outcome of an alert submission.
type EmissionResult struct {
	Accepted bool   `json:"accepted"`
	Detail   string `json:"detail"`
}

// Snapshot is a point-in-time copy of one producer's state.
type Snapshot struct {
	ProducerID      string       `json:"producer_id"`
	Topic           string       `json:"topic"`
	Status          Status       `json:"status"`
	IntervalSeconds float64      `json:"interval_seconds"`
	JitterSeconds   float64      `json:"jitter_seconds"`
	Sequence        uint64       `json:"sequence"`
	StartedAt       time.Time    `json:"started_at"`
	LastEmitAt      *time.Time   `json:"last_emit_at,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
	Recent          []sink.Event `json:"recent_events,omitempty"`
}

// settings are the registry parameters drawn from config. Swapped wholesale
// by ApplyConfig; running loops keep the values they started with.
type settings struct {
	topic    string
	interval time.Duration
	jitter   time.Duration
	target   string
	grace    time.Duration
	maxFails int
	recentN  int
}

func settingsFrom(cfg *config.Config) settings {
	return settings{
		topic:    cfg.Defaults.Topic,
		interval: time.Duration(cfg.Defaults.IntervalSeconds * float64(time.Second)),
		jitter:   time.Duration(*cfg.Defaults.JitterSeconds * float64(time.Second)),
		target:   cfg.Ingest.TargetTable,
		grace:    cfg.StopGrace(),
		maxFails: cfg.Supervision.MaxConsecutiveFailures,
		recentN:  cfg.Supervision.RecentEvents,
	}
}

// Registry owns every running producer loop. All methods are safe for
// concurrent use.
type Registry struct {
	sink sink.Sink
	log  *logging.Logger
	m    *metrics.Metrics

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu        sync.Mutex
	cfg       settings
	producers map[string]*handle
	closed    bool
}

// New builds a registry around the given sink. Defaults and supervision
// parameters come from cfg; ApplyConfig can update them later without
// touching running loops.
func New(cfg *config.Config, snk sink.Sink, log *logging.Logger, m *metrics.Metrics) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sink:      snk,
		log:       log,
		m:         m,
		baseCtx:   ctx,
		cancelAll: cancel,
		cfg:       settingsFrom(cfg),
		producers: make(map[string]*handle),
	}
}

// ApplyConfig swaps in new defaults and supervision parameters. New starts
// and stops pick them up; running loops keep the parameters they captured at
// start.
func (r *Registry) ApplyConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = settingsFrom(cfg)
}

// Start validates the request, registers a new producer, and spawns its
// loop. The returned snapshot reflects the producer before its first
// emission; the loop emits only after the first delay elapses.
func (r *Registry) Start(req StartRequest) (Snapshot, error) {
	id := strings.TrimSpace(req.ProducerID)
	if id == "" {
		return Snapshot{}, &InvalidParameterError{Field: "producer_id", Reason: "must not be empty"}
	}

	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	topic := req.Topic
	if topic == "" {
		topic = cfg.topic
	}

	interval := cfg.interval
	if req.IntervalSeconds != nil {
		if *req.IntervalSeconds <= 0 {
			return Snapshot{}, &InvalidParameterError{
				Field:  "interval_seconds",
				Reason: fmt.Sprintf("must be positive, got %g", *req.IntervalSeconds),
			}
		}
		interval = time.Duration(*req.IntervalSeconds * float64(time.Second))
	}

	jitter := cfg.jitter
	if req.JitterSeconds != nil {
		if *req.JitterSeconds < 0 {
			return Snapshot{}, &InvalidParameterError{
				Field:  "jitter_seconds",
				Reason: fmt.Sprintf("must not be negative, got %g", *req.JitterSeconds),
			}
		}
		jitter = time.Duration(*req.JitterSeconds * float64(time.Second))
		if jitter > interval {
			return Snapshot{}, &InvalidParameterError{
				Field:  "jitter_seconds",
				Reason: "must not exceed interval_seconds",
			}
		}
	} else if jitter > interval {
		// Defaulted jitter must not make an otherwise valid request invalid.
		jitter = interval
	}

	h := &handle{
		id:        id,
		topic:     topic,
		interval:  interval,
		jitter:    jitter,
		target:    cfg.target,
		template:  cloneTemplate(req.PayloadTemplate),
		maxFails:  cfg.maxFails,
		done:      make(chan struct{}),
		status:    StatusRunning,
		startedAt: time.Now().UTC(),
	}
	if cfg.recentN > 0 {
		h.recent = make([]sink.Event, cfg.recentN)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if existing, ok := r.producers[id]; ok {
		if !existing.terminatedFailed() {
			r.mu.Unlock()
			return Snapshot{}, &AlreadyRunningError{ProducerID: id}
		}
		// A failed loop is terminal; reap it so the id can be reused.
		delete(r.producers, id)
		r.releaseLocked(existing)
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	h.cancel = cancel
	r.producers[id] = h
	r.wg.Add(1)
	r.m.RecordProducerStarted()
	r.m.IncrActiveProducers()
	r.mu.Unlock()

	go r.run(ctx, h)

	r.log.LogProducerStarted(id, topic, interval, jitter)
	return h.snapshot(), nil
}

// Stop cancels the producer's loop and blocks until it acknowledges, bounded
// by the grace period. On expiry the loop is abandoned and the record
// removed anyway. Concurrent stops of the same id all succeed.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	h, ok := r.producers[id]
	grace := r.cfg.grace
	r.mu.Unlock()
	if !ok {
		return &NotFoundError{ProducerID: id}
	}

	h.mu.Lock()
	if h.status == StatusRunning {
		h.status = StatusStopping
	}
	startedAt := h.startedAt
	h.mu.Unlock()

	h.cancel()

	timedOut := false
	select {
	case <-h.done:
	case <-time.After(grace):
		timedOut = true
	}

	r.mu.Lock()
	removed := false
	if cur, ok := r.producers[id]; ok && cur == h {
		delete(r.producers, id)
		r.releaseLocked(h)
		removed = true
	}
	r.mu.Unlock()

	h.mu.Lock()
	wasFailed := h.status == StatusFailed
	if !wasFailed {
		h.status = StatusStopped
	}
	seq := h.sequence
	h.mu.Unlock()

	if !removed {
		// A concurrent Stop already finalized this producer.
		return nil
	}

	switch {
	case timedOut:
		r.log.LogStopTimeout(id, grace)
		r.m.RecordProducerStop(metrics.StopAbandoned)
	case wasFailed:
		// The loop terminated on its own fault; that was logged and counted
		// when it happened. Stop only reaps the record.
	default:
		r.log.LogProducerStopped(id, seq, time.Since(startedAt))
		r.m.RecordProducerStop(metrics.StopStopped)
	}
	return nil
}

// List returns point-in-time snapshots ordered by producer id. It never
// blocks on in-flight starts or stops of other ids. A loop that terminated
// in failed status appears one final time, then is reaped.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.producers))
	for _, h := range r.producers {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(handles))
	var reap []*handle
	for _, h := range handles {
		s := h.snapshot()
		snaps = append(snaps, s)
		if s.Status == StatusFailed {
			reap = append(reap, h)
		}
	}

	if len(reap) > 0 {
		r.mu.Lock()
		for _, h := range reap {
			if cur, ok := r.producers[h.id]; ok && cur == h {
				delete(r.producers, h.id)
				r.releaseLocked(h)
			}
		}
		r.mu.Unlock()
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ProducerID < snaps[j].ProducerID })
	return snaps
}

// Alert submits one ad-hoc alert event through the sink. No producer state
// is registered or mutated. A sink failure is reported in the result rather
// than as an error.
func (r *Registry) Alert(ctx context.Context, req AlertRequest) (EmissionResult, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return EmissionResult{}, &InvalidParameterError{Field: "message", Reason: "must not be empty"}
	}

	r.mu.Lock()
	topic := r.cfg.topic
	target := r.cfg.target
	r.mu.Unlock()
	if req.Topic != "" {
		topic = req.Topic
	}
	pid := req.ProducerID
	if pid == "" {
		pid = AlertProducerID
	}
	sev := sink.ParseSeverity(req.Severity)

	ev := sink.NewAlert(pid, msg, sev)
	ack, err := r.sink.Submit(ctx, topic, target, []sink.Event{ev})
	if err != nil {
		r.log.LogAlert(pid, topic, sev.String(), msg, false)
		r.m.RecordAlert(false)
		return EmissionResult{Accepted: false, Detail: err.Error()}, nil
	}

	r.log.LogAlert(pid, topic, sev.String(), msg, true)
	r.m.RecordAlert(true)
	detail := ack.Detail
	if detail == "" {
		detail = fmt.Sprintf("delivered %d event(s) to %s", ack.Sent, topic)
	}
	return EmissionResult{Accepted: true, Detail: detail}, nil
}

// Close stops every producer, best effort. Loops that do not acknowledge
// within the grace period are abandoned. Afterwards List returns an empty
// slice and Start returns ErrClosed. Safe to call multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := make([]*handle, 0, len(r.producers))
	for _, h := range r.producers {
		handles = append(handles, h)
	}
	grace := r.cfg.grace
	r.mu.Unlock()

	r.cancelAll()

	settled := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-time.After(grace):
	}

	r.mu.Lock()
	removed := make([]*handle, 0, len(handles))
	for _, h := range handles {
		if cur, ok := r.producers[h.id]; ok && cur == h {
			delete(r.producers, h.id)
			r.releaseLocked(h)
			removed = append(removed, h)
		}
	}
	r.mu.Unlock()

	for _, h := range removed {
		select {
		case <-h.done:
			h.mu.Lock()
			wasFailed := h.status == StatusFailed
			if !wasFailed {
				h.status = StatusStopped
			}
			seq := h.sequence
			started := h.startedAt
			h.mu.Unlock()
			if !wasFailed {
				r.log.LogProducerStopped(h.id, seq, time.Since(started))
				r.m.RecordProducerStop(metrics.StopStopped)
			}
		default:
			h.mu.Lock()
			h.status = StatusStopped
			h.mu.Unlock()
			r.log.LogStopTimeout(h.id, grace)
			r.m.RecordProducerStop(metrics.StopAbandoned)
		}
	}
}

// release returns the handle's slot in the active gauge exactly once.
func (r *Registry) release(h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(h)
}

// releaseLocked is release for callers already holding r.mu.
func (r *Registry) releaseLocked(h *handle) {
	if h.released {
		return
	}
	h.released = true
	r.m.DecrActiveProducers()
}

func cloneTemplate(t map[string]any) map[string]any {
	if len(t) == 0 {
		return nil
	}
	out := make(map[string]any, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
