package realtime

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker for single-instance deployments and tests
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewMemoryBroker creates an empty MemoryBroker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]chan Event)}
}

// Publish delivers ev to every current subscriber of topic
func (b *MemoryBroker) Publish(ctx context.Context, topic string, ev Event) error {
	if ev.Topic == "" {
		ev.Topic = topic
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		offer(ch, ev)
	}
	return nil
}

// Subscribe registers a subscriber for topics
func (b *MemoryBroker) Subscribe(ctx context.Context, topics ...string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	for _, topic := range topics {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[int]chan Event)
		}
		b.subs[topic][id] = ch
	}
	b.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			b.mu.Lock()
			for _, topic := range topics {
				delete(b.subs[topic], id)
				if len(b.subs[topic]) == 0 {
					delete(b.subs, topic)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, release, nil
}

// SubscriberCount returns the number of live subscriptions on topic
func (b *MemoryBroker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
