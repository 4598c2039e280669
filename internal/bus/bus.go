// Package bus is the in-process pub/sub fabric between the simulation
// engines and the WebSocket gateway. Publish never blocks: subscribers
// that fall behind lose events rather than stalling a world tick.
package bus

import (
	"strings"
	"sync"
)

// Subscriber channel capacity. A full buffer drops, never blocks.
const defaultBufferSize = 100

// Topics published by the simulation engines. Subscribe with a prefix
// ("faction." catches both faction and territory churn when combined
// with its own topic) or "" for everything.
const (
	TopicWorldEvent      = "world.event"
	TopicFactionUpdate   = "faction.update"
	TopicTerritoryUpdate = "territory.update"
	TopicQuestUpdate     = "quest.update"
)

// Event is a message published on the bus. Payload is whatever record
// the publishing engine holds; the gateway marshals it as-is.
type Event struct {
	Topic   string
	Payload any
}

// Subscription is one active subscriber.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel events arrive on. It closes on Unsubscribe.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus fans events out to prefix-matched subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers for events whose topic starts with topicPrefix.
// An empty prefix matches all topics. The channel buffers 100 events;
// once full, further events are dropped for that subscriber.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call twice and on nil.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers the event to every matching subscriber without
// blocking. Nil buses are inert, so engines can publish unconditionally.
func (b *Bus) Publish(topic string, payload any) {
	if b == nil {
		return
	}
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
				// Buffer full. The subscriber misses this one.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
