package registry

import (
	"sync"
	"time"
)

// EventType names a registry change.
type EventType string

const (
	EventInstalled EventType = "installed"
	EventUpdated   EventType = "updated"
	EventRemoved   EventType = "removed"
	EventEnabled   EventType = "enabled"
	EventDisabled  EventType = "disabled"
	EventVariables EventType = "variables"
)

// Event describes one committed registry change.
type Event struct {
	Type      EventType `json:"type"`
	Platform  string    `json:"platform"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// eventBus fans committed changes out to subscribers. Slow subscribers drop events.
type eventBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish returns how many subscribers missed the event.
func (b *eventBus) publish(e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
