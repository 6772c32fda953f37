package producer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/feedsim/feedsim/internal/metrics"
	"github.com/feedsim/feedsim/internal/sink"
	"github.com/getsentry/sentry-go"
)

// handle is the registry-side record of one producer loop. The loop
// goroutine mutates sequence, lastErr, failures, and the recent ring under
// mu; the registry flips status on stop and reads snapshots. Everything
// above mu is immutable after Start.
type handle struct {
	id       string
	topic    string
	interval time.Duration
	jitter   time.Duration
	target   string
	template map[string]any
	maxFails int

	cancel context.CancelFunc
	done   chan struct{} // closed when the loop goroutine exits

	mu          sync.Mutex
	status      Status
	sequence    uint64
	startedAt   time.Time
	lastEmitAt  time.Time
	lastErr     string
	failures    int // consecutive sink failures
	recent      []sink.Event
	recentNext  int
	recentCount int

	// released is guarded by Registry.mu, not mu.
	released bool
}

// run is the producer loop: suspend for interval plus jitter, build one
// event, submit it. A sink failure is recorded and the loop continues; only
// cancellation or an unrecoverable fault ends it.
func (r *Registry) run(ctx context.Context, h *handle) {
	defer r.wg.Done()
	defer close(h.done)
	defer func() {
		if rec := recover(); rec != nil {
			sentry.CurrentHub().Recover(rec)
			detail := fmt.Sprintf("panic: %v", rec)
			seq := h.setFailed(detail)
			r.log.LogProducerFailed(h.id, seq, detail)
			r.m.RecordProducerStop(metrics.StopFailed)
			r.release(h)
		}
	}()

	timer := time.NewTimer(h.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		seq := h.nextSequence()
		ev := sink.NewTick(h.id, seq, h.template)
		start := time.Now()
		_, err := r.sink.Submit(ctx, h.topic, h.target, []sink.Event{ev})
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.m.RecordEmissionError(elapsed)
			r.log.LogEmitFailed(h.id, h.topic, seq, sink.Permanent(err), err)
			fails := h.recordFailure(err.Error())
			if h.maxFails > 0 && fails >= h.maxFails {
				detail := fmt.Sprintf("%d consecutive sink failures, last: %v", fails, err)
				final := h.setFailed(detail)
				r.log.LogProducerFailed(h.id, final, detail)
				r.m.RecordProducerStop(metrics.StopFailed)
				r.release(h)
				return
			}
		} else {
			newSeq := h.recordSuccess(ev, time.Now().UTC())
			r.m.RecordEmission(h.topic, elapsed)
			r.log.LogEmitted(h.id, h.topic, newSeq, elapsed)
		}

		timer.Reset(h.nextDelay())
	}
}

// nextDelay returns interval plus a uniform jitter in [-jitter, +jitter],
// clamped at zero.
func (h *handle) nextDelay() time.Duration {
	d := h.interval
	if h.jitter > 0 {
		d += time.Duration((2*rand.Float64() - 1) * float64(h.jitter))
	}
	if d < 0 {
		d = 0
	}
	return d
}

// nextSequence returns the sequence number the next emission will carry.
// The stored counter advances only on successful submission.
func (h *handle) nextSequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sequence + 1
}

// recordSuccess advances the sequence, clears error state, and appends the
// event to the recent ring. Returns the new sequence.
func (h *handle) recordSuccess(ev sink.Event, now time.Time) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sequence++
	h.lastErr = ""
	h.failures = 0
	h.lastEmitAt = now
	if len(h.recent) > 0 {
		h.recent[h.recentNext] = ev
		h.recentNext = (h.recentNext + 1) % len(h.recent)
		if h.recentCount < len(h.recent) {
			h.recentCount++
		}
	}
	return h.sequence
}

// recordFailure stores the sink error verbatim and returns the consecutive
// failure count.
func (h *handle) recordFailure(detail string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = detail
	h.failures++
	return h.failures
}

// setFailed transitions the producer to its terminal failed state and
// returns the final sequence.
func (h *handle) setFailed(detail string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusFailed
	h.lastErr = detail
	return h.sequence
}

// terminatedFailed reports whether the loop has exited in failed status.
func (h *handle) terminatedFailed() bool {
	select {
	case <-h.done:
	default:
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == StatusFailed
}

// snapshot copies the producer state under the handle lock, never the
// registry lock. The recent ring is returned oldest first.
func (h *handle) snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Snapshot{
		ProducerID:      h.id,
		Topic:           h.topic,
		Status:          h.status,
		IntervalSeconds: h.interval.Seconds(),
		JitterSeconds:   h.jitter.Seconds(),
		Sequence:        h.sequence,
		StartedAt:       h.startedAt,
		LastError:       h.lastErr,
	}
	if !h.lastEmitAt.IsZero() {
		t := h.lastEmitAt
		s.LastEmitAt = &t
	}
	if h.recentCount > 0 {
		s.Recent = make([]sink.Event, 0, h.recentCount)
		first := (h.recentNext - h.recentCount + len(h.recent)) % len(h.recent)
		for i := range h.recentCount {
			s.Recent = append(s.Recent, h.recent[(first+i)%len(h.recent)])
		}
	}
	return s
}
