package pipeline

import (
	"context"
	"log"
	"sync"
)

// Bus fans events out from elements to every subscriber of an event type.
// Delivery is non-blocking: a subscriber with a full channel misses the
// event rather than stalling the publisher, so the audio path never blocks
// on a slow consumer.
type Bus interface {
	Subscribe(eventType EventType, ch chan Event)
	Unsubscribe(eventType EventType, ch chan Event)
	Publish(event Event)

	Start(ctx context.Context) error
	Stop() error
}

type eventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	stopped     bool
}

func NewEventBus() Bus {
	return &eventBus{
		subscribers: make(map[EventType][]chan Event),
	}
}

func (b *eventBus) Subscribe(eventType EventType, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
}

func (b *eventBus) Unsubscribe(eventType EventType, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *eventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			log.Printf("[EventBus] subscriber channel full, dropping %s event", event.Type)
		}
	}
}

func (b *eventBus) Start(ctx context.Context) error {
	return nil
}

func (b *eventBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}
