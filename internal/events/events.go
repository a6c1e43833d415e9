// Package events carries one-way status and progress events to the host UI and turns its
// command intents into events. The core publishes; it never depends on who listens.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is the closed vocabulary of outbound events.
type Type string

const (
	TypeStatus        Type = "status"
	TypeProgress      Type = "progress"
	TypeSubgraph      Type = "subgraph"
	TypeSearchResults Type = "search-results"
	TypeError         Type = "error"
)

// Valid reports whether t is one of the outbound event types.
func (t Type) Valid() bool {
	switch t {
	case TypeStatus, TypeProgress, TypeSubgraph, TypeSearchResults, TypeError:
		return true
	}
	return false
}

// Event is one outbound message.
type Event struct {
	ID      string      `json:"id"`
	Type    Type        `json:"type"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// New returns an event with a fresh id.
func New(t Type, payload interface{}) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: time.Now().UTC(), Payload: payload}
}

// ErrorPayload is the payload of TypeError events.
type ErrorPayload struct {
	Message string `json:"message"`
	QueueID string `json:"queue_id,omitempty"`
}

// Publisher receives events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f.
func (f PublisherFunc) Publish(e Event) { f(e) }

// Nop discards events.
var Nop Publisher = PublisherFunc(func(Event) {})

const defaultBufferSize = 64

// Broker fans events out to subscribers. A slow subscriber loses events rather than
// blocking publishers.
type Broker struct {
	mu         sync.RWMutex
	subs       map[int]chan Event
	next       int
	bufferSize int
	closed     bool
}

// NewBroker creates a broker whose subscriber channels hold bufferSize events.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{subs: make(map[int]chan Event), bufferSize: bufferSize}
}

// Publish delivers e to every subscriber whose buffer has room.
func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// buffer full, drop
		}
	}
}

// Subscribe returns a channel of events and a function that unsubscribes and closes it.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
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

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
