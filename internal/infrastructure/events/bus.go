// Package events delivers claim lifecycle events to in-process
// subscribers, with an optional NATS fan-out for external consumers.
package events

import (
	"fmt"
	"sync"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

// Wildcard subscribes a handler to every event type.
const Wildcard claims.ClaimEventType = "*"

// Publisher delivers persisted events to subscribers. Implementations
// must invoke handlers in the order events are published.
type Publisher interface {
	Publish(event *claims.ClaimEvent)
	PublishBatch(events []*claims.ClaimEvent)
	Subscribe(eventType claims.ClaimEventType, handler claims.EventHandler) string
	Unsubscribe(eventType claims.ClaimEventType, subscriptionID string) bool
}

type subscription struct {
	id      string
	handler claims.EventHandler
}

// Bus is an in-process Publisher. Handlers run synchronously on the
// publishing goroutine so observers see events in audit-log order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[claims.ClaimEventType][]subscription
	nextID int
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[claims.ClaimEventType][]subscription)}
}

// Subscribe registers a handler for one event type (or Wildcard) and
// returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(eventType claims.ClaimEventType, handler claims.EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := fmt.Sprintf("sub-%d", b.nextID)
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription. Returns false if the id is not
// registered under the given type.
func (b *Bus) Unsubscribe(eventType claims.ClaimEventType, subscriptionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, sub := range subs {
		if sub.id == subscriptionID {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish invokes every handler registered for the event's type, then
// the wildcard handlers. A handler panic is confined to that handler.
func (b *Bus) Publish(event *claims.ClaimEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]claims.EventHandler, 0, len(b.subs[event.Type])+len(b.subs[Wildcard]))
	for _, sub := range b.subs[event.Type] {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range b.subs[Wildcard] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		invoke(handler, event)
	}
}

// PublishBatch publishes events in slice order.
func (b *Bus) PublishBatch(events []*claims.ClaimEvent) {
	for _, event := range events {
		b.Publish(event)
	}
}

// SubscriberCount returns the number of handlers for a type.
func (b *Bus) SubscriberCount(eventType claims.ClaimEventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Close drops all subscriptions; further publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = make(map[claims.ClaimEventType][]subscription)
}

func invoke(handler claims.EventHandler, event *claims.ClaimEvent) {
	defer func() {
		// A misbehaving subscriber must not take down the emitter.
		_ = recover()
	}()
	handler(event)
}
