// Package stream fans emitted events out to in-process observers: a bounded
// ring of recent events for the API and live subscriber channels for the
// websocket tail.
package stream

import (
	"sync"

	"github.com/feedsim/feedsim/internal/sink"
)

// Default values for Hub configuration.
const (
	DefaultCapacity  = 100
	subscriberBuffer = 16
)

// Hub receives every event the sink accepted and redistributes it.
// Record never blocks: subscribers that fall behind lose events rather than
// stalling an emission cycle.
type Hub struct {
	mu     sync.Mutex
	ring   []sink.Event
	next   int // write position in ring
	count  int // filled slots, <= len(ring)
	subs   map[int]chan sink.Event
	nextID int
	closed bool
}

// NewHub creates a hub keeping the last capacity events.
// Non-positive capacity falls back to DefaultCapacity.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring: make([]sink.Event, capacity),
		subs: make(map[int]chan sink.Event),
	}
}

// Record stores the event in the ring and offers it to every subscriber.
// Implements sink.Recorder.
func (h *Hub) Record(ev sink.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.ring[h.next] = ev
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default: // subscriber full, drop
		}
	}
}

// Recent returns a copy of the buffered events, oldest first.
func (h *Hub) Recent() []sink.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]sink.Event, 0, h.count)
	start := h.next - h.count
	for i := range h.count {
		out = append(out, h.ring[(start+i+len(h.ring))%len(h.ring)])
	}
	return out
}

// Subscribe registers a live event channel. The returned cancel func removes
// the subscription and closes the channel; it is safe to call more than once.
// After Close, Subscribe returns an already-closed channel.
func (h *Hub) Subscribe() (<-chan sink.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan sink.Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Close shuts the hub down: all subscriber channels are closed and further
// Records are dropped. Safe to call multiple times.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
