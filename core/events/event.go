package events

import (
	"sort"
	"sync"
)

// Event represents a structured ledger state change.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the stream hub).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is the concrete payload emitted by the ledger engines.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType satisfies the Event interface.
func (r Record) EventType() string { return r.Type }

// Keys returns the attribute names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Buffer accumulates events until the surrounding transaction commits.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// FlushTo forwards all buffered events to the supplied emitter.
func (b *Buffer) FlushTo(dst Emitter) {
	if dst == nil {
		return
	}
	for _, evt := range b.Drain() {
		dst.Emit(evt)
	}
}

// Multi fans events out to several emitters.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
