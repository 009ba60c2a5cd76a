// Package events carries domain events raised by the refresh loop to local
// subscribers and, optionally, to a message broker.
package events

import (
	"context"
	"sync"
	"time"
)

// TopicYNAB is the topic used for import notifications.
const TopicYNAB = "ynab_event"

// TopicSensorUpdate is the topic used when sensor states change.
const TopicSensorUpdate = "sensor_update"

const defaultBuffer = 200

// Event is a single domain event.
type Event struct {
	ID        int64          `json:"id"`
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus keeps a bounded history of events and fans new ones out to subscribers.
// Slow subscribers miss events rather than block the publisher.
type Bus struct {
	mu      sync.RWMutex
	size    int
	nextID  int64
	events  []Event
	nextSub int
	subs    map[int]chan Event
	now     func() time.Time
}

// NewBus returns a bus retaining at most size events.
func NewBus(size int) *Bus {
	if size < 1 {
		size = defaultBuffer
	}
	return &Bus{
		size: size,
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Publish assigns an id and timestamp, records ev, and offers it to every subscriber.
func (b *Bus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ev.ID = b.nextID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.events = append(b.events, ev)
	if len(b.events) > b.size {
		b.events = b.events[len(b.events)-b.size:]
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Recent returns a copy of the retained events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of retained events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Subscribe registers ch and returns a function that removes it.
func (b *Bus) Subscribe(ch chan Event) (cancel func()) {
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = ch
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Fanout publishes to each publisher in order and returns the first error.
// Later publishers still receive the event when an earlier one fails.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }
