// Package events provides the per-run progress channel: a single producer
// (the pipeline) fanning out to zero or more subscribers. Publishing never
// blocks; a slow or absent consumer cannot stall generation. Each run owns
// its bus; there is no process-wide emitter.
package events

import (
	"sync"
	"time"
)

// Type discriminates progress events.
type Type string

const (
	TypeStarted        Type = "started"
	TypeAgentStarted   Type = "agent_started"
	TypeAgentCompleted Type = "agent_completed"
	TypeStageChanged   Type = "stage_changed"
	TypeComplete       Type = "complete"
	TypeError          Type = "error"
)

// IsTerminal reports whether this event type ends the run's stream.
func (t Type) IsTerminal() bool {
	return t == TypeComplete || t == TypeError
}

// Event is one progress notification. Error events carry only sanitized
// messages; provider error text never appears here.
type Event struct {
	Type      Type           `json:"type"`
	Stage     string         `json:"stage"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// subscriberBuffer is the per-subscriber channel depth. A consumer that falls
// further behind than this starts losing events rather than blocking the run.
const subscriberBuffer = 64

// Bus is a single-producer, multi-subscriber progress channel.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	once   sync.Once
}

// NewBus creates a bus for one pipeline run.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Subscribe attaches a listener. The returned cancel function detaches it;
// the channel is closed either by cancel or when the bus closes on the
// terminal event.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish fans the event out to all subscribers without blocking. Events for
// a full subscriber are dropped. Publishing after close is a no-op.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is backed up; the pipeline must not wait.
		}
	}
}

// Close shuts the bus down, closing all subscriber channels. Safe to call
// more than once; only the first call has effect.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
	})
}
