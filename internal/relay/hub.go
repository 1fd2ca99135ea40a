package relay

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel capacity. Events for a
// subscriber whose buffer is full are dropped.
const subscriberBuffer = 16

// StatusEvent is published whenever a device report is accepted.
type StatusEvent struct {
	Device string `json:"device"`
	Status
}

// Hub fans status events out to in-process subscribers such as websocket
// connections. Publishing never blocks on a slow subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan StatusEvent
	closed      bool
	dropped     uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan StatusEvent)}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters
// it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, subscriberBuffer)
	id := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish delivers ev to every subscriber with room in its buffer and
// returns how many received it.
func (h *Hub) Publish(ev StatusEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
			delivered++
		default:
			h.dropped++
		}
	}
	return delivered
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many events were discarded for full subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
