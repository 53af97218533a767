// Package events is a small publish/subscribe bus for operational
// events. The reasoning loop and the scheduler publish; the API
// WebSocket and the MQTT publisher subscribe. A nil *Bus accepts
// publishes and drops them, so components never need nil checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent     = "agent"
	SourceScheduler = "scheduler"
	SourceDiscord   = "discord"
)

// Kinds published by the agent loop.
const (
	// Data: request_id, trigger.
	KindRequestStart = "request_start"
	// Data: request_id, round, model.
	KindLLMCall = "llm_call"
	// Data: request_id, round, model, input_tokens, output_tokens, tool_calls.
	KindLLMResponse = "llm_response"
	// Data: request_id, round, tool, call_id.
	KindToolCall = "tool_call"
	// Data: request_id, round, tool, call_id, duration_ms.
	KindToolDone = "tool_done"
	// Data: request_id, rounds, outcome, elapsed_ms.
	KindRequestComplete = "request_complete"
)

// Kinds published by the scheduler and the platform.
const (
	// Data: server, channel, author.
	KindMessageReceived = "message_received"
	// Data: server, channel, reason.
	KindMessageSkipped = "message_skipped"
	// Data: server, channel.
	KindRunStarted = "run_started"
	// Data: server, channel, outcome, duration_ms.
	KindRunFinished = "run_finished"
	// Data: server, channel.
	KindRunSuperseded = "run_superseded"
	// Data: heads.
	KindIdleTick = "idle_tick"
	// Data: servers.
	KindReady = "ready"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to buffered subscriber channels. A subscriber
// whose buffer is full misses the event; publishers never block.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a new subscriber with the given buffer size.
// Call Unsubscribe when done.
func (b *Bus) Subscribe(buf int) <-chan Event {
	ch := make(chan Event, buf)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
