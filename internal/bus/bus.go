// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

const (
	// Avatar lifecycle
	EventTypeAvatarBound   EventType = "avatar.bound"
	EventTypeAvatarUnbound EventType = "avatar.unbound"

	// Lip-sync engine
	EventTypeLipSyncStarted EventType = "lipsync.started"
	EventTypeLipSyncStopped EventType = "lipsync.stopped"
	EventTypeLipSyncFrame   EventType = "lipsync.frame"

	// Configuration
	EventTypeConfigChanged EventType = "config.changed"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// SubscriptionID identifies a registered handler for Unsubscribe
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// EventBus is a simple pub/sub event bus. Every handler registered when an
// event is published receives it; there is no ordering across handlers.
type EventBus struct {
	mu       sync.RWMutex
	next     SubscriptionID
	handlers map[EventType][]subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: b.next, handler: handler})
	return b.next
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) []SubscriptionID {
	ids := make([]SubscriptionID, 0, len(eventTypes))
	for _, et := range eventTypes {
		ids = append(ids, b.Subscribe(et, handler))
	}
	return ids
}

// Unsubscribe removes a handler. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.handlers {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			kept := make([]subscription, 0, len(subs)-1)
			kept = append(kept, subs[:i]...)
			kept = append(kept, subs[i+1:]...)
			if len(kept) == 0 {
				delete(b.handlers, et)
			} else {
				b.handlers[et] = kept
			}
			return
		}
	}
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.handlers[eventType]
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	return handlers
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	var wg sync.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Count returns the number of handlers registered for an event type
func (b *EventBus) Count(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]subscription)
}
