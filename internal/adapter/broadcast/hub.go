package broadcast

import (
	"context"
	"sync"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Hub fans catalog events out to in-process subscribers. A subscriber that falls behind misses
// events rather than stalling the others.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan domain.CatalogEvent]struct{}
	buffer int
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[chan domain.CatalogEvent]struct{}), buffer: buffer}
}

func (h *Hub) Name() string { return "hub" }

func (h *Hub) Deliver(_ context.Context, event domain.CatalogEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a new observer. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan domain.CatalogEvent, func()) {
	ch := make(chan domain.CatalogEvent, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Close ends every subscription. Later subscribers get an already closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
