// Package events fans out pipeline events to an arbitrary number of
// subscribers without letting a slow consumer stall the producers.
package events

import (
	"sync"

	"codeberg.org/mutker/edgepilot/internal/logger"
)

// Type labels an event for subscribers multiplexing a single stream.
type Type string

const (
	TypeTelemetry      Type = "telemetry"
	TypeDecision       Type = "decision"
	TypeSuggestion     Type = "suggestion"
	TypeExplanation    Type = "explanation"
	TypeSourceProgress Type = "source_progress"
	TypeStatus         Type = "status"
	TypeVideoFrame     Type = "video_frame"
)

// Event is one published message. Payload is any JSON-marshalable value;
// video frames carry raw JPEG bytes instead.
type Event struct {
	Type    Type        `json:"type"`
	Payload interface{} `json:"payload"`
}

type subscriber struct {
	ch chan Event
}

// Hub is a non-blocking publish/subscribe fan-out. Publish never waits: when
// a subscriber's buffer is full the event is dropped for that subscriber.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new consumer and returns its event channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			logger.Debug().Str("type", string(event.Type)).Msg("Dropping event for slow subscriber")
		}
	}
}

// SubscriberCount reports how many consumers are attached. Producers of
// expensive payloads (frame encoding) skip work when nobody is listening.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
