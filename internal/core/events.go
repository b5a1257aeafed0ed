package core

import (
	"encoding/json"
	"fmt"
	"sync"
)

// EventType discriminates push payloads fanned out to connected clients.
type EventType string

const (
	EventPendingCount     EventType = "pending_count"
	EventRemainingUpdated EventType = "remaining_updated"
)

// Event is a single push notification. Only the fields relevant to its
// type are serialized.
type Event struct {
	Type             EventType
	ChildID          string
	RemainingMinutes int64
	Count            int64
}

// NewPendingCountEvent builds a pending_count event for parents.
func NewPendingCountEvent(count int64) Event {
	return Event{Type: EventPendingCount, Count: count}
}

// NewRemainingUpdatedEvent builds a remaining_updated event for a child.
func NewRemainingUpdatedEvent(childID string, remaining int64) Event {
	return Event{Type: EventRemainingUpdated, ChildID: childID, RemainingMinutes: remaining}
}

// MarshalJSON serializes the event as a tagged object so clients can
// switch on the "type" field.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventPendingCount:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Count int64     `json:"count"`
		}{e.Type, e.Count})
	case EventRemainingUpdated:
		return json.Marshal(struct {
			Type             EventType `json:"type"`
			ChildID          string    `json:"child_id"`
			RemainingMinutes int64     `json:"remaining_minutes"`
		}{e.Type, e.ChildID, e.RemainingMinutes})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

const subscriberBuffer = 16

// Hub fans events out to live subscribers. Delivery is best effort:
// a subscriber that stops draining its channel loses events rather
// than blocking publishers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber goes away; it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel so long-lived streams end during
// shutdown. Cancel funcs returned by Subscribe stay safe to call after.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
