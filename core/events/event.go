package events

import (
	"sync"

	"tokenexchange/core/types"
)

// Event represents a structured state change emitted by a contract.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. journal, websocket
// stream, Kafka).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts ordinary functions to Emitter.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ev Event) {
	if f != nil {
		f(ev)
	}
}

// Multi fans every event out to each emitter in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ev Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ev)
		}
	}
}

// Buffer holds the events of an in-flight operation. Events only leave the
// buffer through Flush, which the executor calls after a successful commit.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (b *Buffer) Emit(ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

// Events returns the rendered form of the buffered events.
func (b *Buffer) Events() []types.Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Event, 0, len(b.events))
	for _, ev := range b.events {
		if rendered := ev.Event(); rendered != nil {
			out = append(out, *rendered)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush forwards the buffered events to dst and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if dst == nil {
		return
	}
	for _, ev := range pending {
		dst.Emit(ev)
	}
}

// Discard drops the buffered events.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}
