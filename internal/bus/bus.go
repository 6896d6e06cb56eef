// Package bus is the in-process publish/subscribe channel for realtime
// events. Every payload is validated at publish; invalid payloads are logged
// and dropped, never delivered and never surfaced as errors to publishers.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region recorder

// Recorder persists validated events. The state event is UI-only and is never
// recorded.
type Recorder interface {
	AppendEvent(ctx context.Context, kind contracts.EventKind, payload contracts.Payload) error
}

// #endregion recorder

// #region bus

// Handler receives one validated payload.
type Handler func(payload contracts.Payload)

// Bus fans validated payloads out to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[contracts.EventKind][]Handler
	recorder Recorder
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[contracts.EventKind][]Handler)}
}

// SetRecorder attaches a persistent event recorder.
func (b *Bus) SetRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind contracts.EventKind, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// #endregion bus

// #region publish

// Publish validates and delivers one payload. Invalid payloads are dropped
// with a log line; recording failures are likewise swallowed.
func (b *Bus) Publish(ctx context.Context, payload contracts.Payload) {
	if err := contracts.Assert(payload); err != nil {
		log.Printf("[BUS] blocked invalid realtime payload: %v", err)
		return
	}
	kind := payload.Kind()

	b.mu.RLock()
	handlers := b.handlers[kind]
	recorder := b.recorder
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}

	if recorder != nil && kind != contracts.EventState {
		if err := recorder.AppendEvent(ctx, kind, payload); err != nil {
			log.Printf("[BUS] event record failed for %s: %v", kind, err)
		}
	}
}

// #endregion publish
