package plugin

import (
	"sync"

	"github.com/google/uuid"
)

// EventHandler receives an emitted event
type EventHandler func(event string, payload any)

// EventBus is a synchronous publish/subscribe bus. Plugin contexts see
// a prefixed view of it so one plugin cannot observe another's events.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]EventHandler
}

// NewEventBus creates an empty event bus
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string]map[string]EventHandler)}
}

// Subscribe registers a handler for an event name and returns an
// unsubscribe function.
func (b *EventBus) Subscribe(event string, handler EventHandler) func() {
	id := uuid.NewString()

	b.mu.Lock()
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[string]EventHandler)
	}
	b.handlers[event][id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if handlers, ok := b.handlers[event]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.handlers, event)
			}
		}
	}
}

// Emit dispatches an event to every subscribed handler
func (b *EventBus) Emit(event string, payload any) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[event]))
	for _, handler := range b.handlers[event] {
		handlers = append(handlers, handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event, payload)
	}
}

// RemovePrefix drops every subscription whose event name starts with
// the given prefix. Used when a plugin context is destroyed.
func (b *EventBus) RemovePrefix(prefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event := range b.handlers {
		if len(event) >= len(prefix) && event[:len(prefix)] == prefix {
			delete(b.handlers, event)
		}
	}
}

// ScopedEvents is the namespaced emitter handed to a plugin context.
// Every event name is prefixed with the plugin's namespace.
type ScopedEvents struct {
	bus    *EventBus
	prefix string
}

func newScopedEvents(bus *EventBus, pluginID string) *ScopedEvents {
	return &ScopedEvents{bus: bus, prefix: "plugin:" + pluginID + ":"}
}

// Emit publishes an event within the plugin's namespace
func (s *ScopedEvents) Emit(event string, payload any) {
	s.bus.Emit(s.prefix+event, payload)
}

// Subscribe listens for an event within the plugin's namespace and
// returns an unsubscribe function
func (s *ScopedEvents) Subscribe(event string, handler EventHandler) func() {
	return s.bus.Subscribe(s.prefix+event, handler)
}
