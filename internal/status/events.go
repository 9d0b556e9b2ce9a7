package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a point-in-time change to one borough's status. The pollable
// Registry is the contract; the Hub is an optional push-style layer for
// consumers that prefer a channel.
type Event struct {
	Borough string        `json:"borough"`
	Status  BoroughStatus `json:"status"`
	At      time.Time     `json:"at"`
}

// Hub fans status events out to subscribers. Emit never blocks: slow
// subscribers lose events and a drop counter records how many.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
}

// NewHub returns an empty hub. A nil *Hub is valid and discards events.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered event channel and returns it with an
// unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit delivers evt to every subscriber without blocking.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded due to full subscriber
// buffers.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}
