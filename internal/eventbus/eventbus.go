// Package eventbus is an in-process pub/sub bus for bridge activity: agent
// terminal output, agent lifecycle changes and message routing. Live
// observers such as the /output stream subscribe to it.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventOutput       EventType = "output"
	EventAgentStarted EventType = "agent_started"
	EventAgentStopped EventType = "agent_stopped"
	EventEnqueued     EventType = "message_enqueued"
	EventCompletion   EventType = "completion"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 256

// Event is one bus message.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Time      time.Time `json:"time"`
}

// Bus broadcasts every event to every subscriber. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
	dropped     atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe returns a buffered event channel and the function that ends the
// subscription. The unsubscribe function is safe to call more than once.
func (b *Bus) Subscribe() (events <-chan Event, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish delivers event to all subscribers without blocking. A subscriber
// whose buffer is full misses the event. A zero Time is set to now.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// PublishOutput publishes a chunk of agent terminal output.
func (b *Bus) PublishOutput(text string) {
	b.Publish(Event{Type: EventOutput, Text: text})
}

// Close ends every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
