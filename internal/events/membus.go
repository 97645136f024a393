package events

import "sync"

// MemBus is an in-process event bus: handlers run synchronously on the
// emitting goroutine, same as a direct function call. Suitable for unit
// tests and the single-process CLI backend.
type MemBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewMemBus returns an empty in-process bus.
func NewMemBus() *MemBus {
	return &MemBus{handlers: make(map[string][]Handler)}
}

// Subscribe registers handler for topic.
func (b *MemBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Emit calls every handler subscribed to topic, in subscription order.
func (b *MemBus) Emit(topic string, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	for _, h := range handlers {
		h(topic, payload)
	}
}

// Topics returns every topic with at least one subscriber.
func (b *MemBus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		out = append(out, t)
	}
	return out
}

var _ Bus = (*MemBus)(nil)
