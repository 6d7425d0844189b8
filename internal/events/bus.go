// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

// Kind identifies the type of an event.
type Kind string

const (
	KindStreamStarted    Kind = "stream-started"
	KindStreamChunk      Kind = "stream-chunk"
	KindMetadataReceived Kind = "metadata-received"
	KindResponseComplete Kind = "response-complete"
	KindError            Kind = "error"
)

// Phases reported by error events.
const (
	PhaseStream         = "stream"
	PhaseBackgroundSave = "background-save"
	PhaseCreateChat     = "create-chat"
	PhaseLoad           = "load"
)

// =============================================================================
// PAYLOADS
// =============================================================================

// Payload is implemented by every event payload.
type Payload interface {
	Kind() Kind
}

// StreamStarted is published when a completion request is opened.
type StreamStarted struct {
	Model  string `json:"model"`
	IsAuto bool   `json:"isAuto"`
	ChatID string `json:"chatId"`
}

// StreamChunk is published for every content delta.
type StreamChunk struct {
	Content     string `json:"content"`
	FullContent string `json:"fullContent"`
	Model       string `json:"model"`
}

// MetadataReceived is published when the backend reports the routed model.
type MetadataReceived struct {
	ActualModelUsed  string `json:"actualModelUsed"`
	ActualModelName  string `json:"actualModelName,omitempty"`
	CosmoSelected    bool   `json:"cosmoSelected"`
	DetectedCategory string `json:"detectedCategory"`
}

// ResponseComplete is published when a stream finishes.
type ResponseComplete struct {
	Model            string `json:"model"`
	Content          string `json:"content"`
	CosmoSelected    bool   `json:"cosmoSelected"`
	DetectedCategory string `json:"detectedCategory"`
}

// ErrorPayload is published when a phase fails.
type ErrorPayload struct {
	Phase       string `json:"phase"`
	Err         error  `json:"-"`
	Recoverable bool   `json:"recoverable"`
}

func (StreamStarted) Kind() Kind    { return KindStreamStarted }
func (StreamChunk) Kind() Kind      { return KindStreamChunk }
func (MetadataReceived) Kind() Kind { return KindMetadataReceived }
func (ResponseComplete) Kind() Kind { return KindResponseComplete }
func (ErrorPayload) Kind() Kind     { return KindError }

// Error returns the failure message, or an empty string.
func (p ErrorPayload) Error() string {
	if p.Err == nil {
		return ""
	}
	return p.Err.Error()
}

// Event is a published payload with its timestamp.
type Event struct {
	Kind    Kind
	Time    time.Time
	Payload Payload
}

// Handler receives published events.
type Handler func(Event)

// =============================================================================
// BUS
// =============================================================================

type subscription struct {
	id      uint64
	kind    Kind // empty for all kinds
	handler Handler
}

// Bus dispatches events synchronously to subscribers in subscription order.
// It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger.With().Str("component", "events").Logger()}
}

// Subscribe registers a handler for one event kind and returns a function
// that removes it.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	return b.add(kind, h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add("", h)
}

func (b *Bus) add(kind Kind, h Handler) func() {
	if b == nil || h == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers a payload to every matching subscriber.
// Handlers run on the caller's goroutine; a panicking handler is logged and
// skipped.
func (b *Bus) Publish(p Payload) {
	if b == nil || p == nil {
		return
	}

	ev := Event{Kind: p.Kind(), Time: time.Now(), Payload: p}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == ev.Kind {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("kind", string(ev.Kind)).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()
	h(ev)
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
