// Package notify fans lifecycle signals out to in-process subscribers.
// Embedding hosts subscribe here to react to no-more-data or pipeline
// lifecycle events without consuming the engine's signal channel.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/relogdev/relog/common"
)

// defaultSignalBufferSize is the buffer size for subscriber channels.
// Sized to handle typical burst rates while keeping memory low.
// Subscribers that can't keep up will have signals dropped (non-blocking send).
const defaultSignalBufferSize = 16

// Filter selects which signals a subscription receives. Empty Types means
// all signal types.
type Filter struct {
	Types []common.SignalType
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan common.LifecycleSignal
	closed atomic.Bool
}

// matches checks if the signal type matches this subscription's filter.
func (s *subscription) matches(t common.SignalType) bool {
	if len(s.filter.Types) == 0 {
		return true
	}
	for _, want := range s.filter.Types {
		if want == t {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub for lifecycle signals.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new signal hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Publish sends a signal to all matching subscribers (non-blocking).
func (h *Hub) Publish(sig common.LifecycleSignal) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(sig.Type) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- sig:
		default:
			// Buffer full, skip this subscriber
		}
	}
}

// Subscribe creates a new subscription and returns the signal channel and
// cancel function. The returned channel is buffered. If the subscriber
// cannot keep up with the signal rate, signals will be dropped silently by
// Publish(). The cancel function is idempotent.
func (h *Hub) Subscribe(filter Filter) (<-chan common.LifecycleSignal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan common.LifecycleSignal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
