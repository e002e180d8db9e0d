// Package subscription implements C8: fan-out of block events to
// authenticated subscribers with non-blocking backpressure.
package subscription

import (
	"sync"

	"github.com/docvault/storagenode/pkg/metrics"
	"github.com/docvault/storagenode/pkg/types"
)

// Subscriber is a channel that receives block events.
type Subscriber chan types.BlockEvent

// Hub fans out block events to subscribers keyed by the subscribing
// address. A later Subscribe call for the same address replaces the
// earlier one, closing its channel.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[types.Address]Subscriber

	eventCh chan types.BlockEvent
	stopCh  chan struct{}
	once    sync.Once
}

// NewHub creates a Hub. Call Start to begin the distribution loop.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[types.Address]Subscriber),
		eventCh:     make(chan types.BlockEvent, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the hub's event distribution loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop stops the hub and closes every live subscriber channel.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for addr, sub := range h.subscribers {
		close(sub)
		delete(h.subscribers, addr)
	}
}

// Subscribe registers addr for block events, replacing any existing
// subscription for the same address.
func (h *Hub) Subscribe(addr types.Address) Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.subscribers[addr]; ok {
		close(old)
	}
	sub := make(Subscriber, 50)
	h.subscribers[addr] = sub
	metrics.SubscriptionsActive.Set(float64(len(h.subscribers)))
	return sub
}

// Unsubscribe removes addr's subscription, if it is still the current
// one for that address.
func (h *Hub) Unsubscribe(addr types.Address, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.subscribers[addr]; ok && current == sub {
		close(current)
		delete(h.subscribers, addr)
		metrics.SubscriptionsActive.Set(float64(len(h.subscribers)))
	}
}

// Publish enqueues a block event for distribution to every subscriber.
func (h *Hub) Publish(event types.BlockEvent) {
	select {
	case h.eventCh <- event:
	case <-h.stopCh:
	}
}

func (h *Hub) run() {
	for {
		select {
		case event := <-h.eventCh:
			h.broadcast(event)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) broadcast(event types.BlockEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub <- event:
		default:
			metrics.SubscriberEventsDropped.Inc()
		}
	}
}

// ActiveCount returns the number of live subscriptions. Exported for
// tests and status reporting.
func (h *Hub) ActiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
