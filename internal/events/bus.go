// Package events is a broadcast bus for the assistant's operational
// events. The orchestration loop and the tool layer publish; the
// /v1/events websocket subscribes. Publishing never blocks, and a nil
// *Bus accepts every call so publishers need no guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sources.
const (
	SourceAgent  = "agent"
	SourceVoice  = "voice"
	SourceHealth = "health"
)

// Kinds published by the orchestration loop.
const (
	// KindRequestStart: user_id, request_id, turns.
	KindRequestStart = "request_start"
	// KindState: request_id, from, to, iteration.
	KindState = "state"
	// KindLLMCall: request_id, iteration, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse: request_id, iteration, model, tokens_in,
	// tokens_out, tool_calls, duration_ms.
	KindLLMResponse = "llm_response"
	// KindToolCall: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone: request_id, tool, ok, pending, mutated, duration_ms.
	// mutated is false for failed and pending results.
	KindToolDone = "tool_done"
	// KindToolSkipped: request_id, tool, reason.
	KindToolSkipped = "tool_skipped"
	// KindRequestComplete: request_id, iterations, suggestions,
	// tokens_in, tokens_out, elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindRequestAborted: request_id, iterations, error.
	KindRequestAborted = "request_aborted"
)

// Kinds published by the voice adapter.
const (
	// KindTranscribed: bytes, chars, duration_ms.
	KindTranscribed = "transcribed"
	// KindSynthesized: chars, bytes, duration_ms.
	KindSynthesized = "synthesized"
)

// Kinds published by the dependency monitor.
const (
	// KindDependencyUp: dependency.
	KindDependencyUp = "dependency_up"
	// KindDependencyDown: dependency, error.
	KindDependencyDown = "dependency_down"
)

// Event is one operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Bus delivers each published event to every subscriber's buffered
// channel. A subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]*subscriber
	dropped atomic.Int64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscriber)}
}

// Publish delivers e without blocking.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with a buffer of size n. Callers
// must Unsubscribe when done.
func (b *Bus) Subscribe(n int) <-chan Event {
	s := &subscriber{ch: make(chan Event, n)}
	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(s.ch)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
