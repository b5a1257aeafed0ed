package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(NewPendingCountEvent(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pending_count","count":3}`, string(data))

	data, err = json.Marshal(NewRemainingUpdatedEvent("alice", -2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"remaining_updated","child_id":"alice","remaining_minutes":-2}`, string(data))

	_, err = json.Marshal(Event{Type: "bogus"})
	assert.Error(t, err)
}

func TestHub_PublishAndSubscribe(t *testing.T) {
	hub := NewHub()

	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(NewPendingCountEvent(1))

	assert.Equal(t, NewPendingCountEvent(1), <-first)
	assert.Equal(t, NewPendingCountEvent(1), <-second)

	// A cancelled subscriber is removed and its channel closed
	cancelFirst()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-first
	assert.False(t, open)

	// Cancelling twice is safe
	cancelFirst()
	assert.Equal(t, 1, hub.Subscribers())

	hub.Publish(NewPendingCountEvent(2))
	assert.Equal(t, NewPendingCountEvent(2), <-second)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe()

	hub.Close()
	assert.Equal(t, 0, hub.Subscribers())
	_, open := <-events
	assert.False(t, open)

	// Cancel after Close is a no-op, publish goes nowhere
	cancel()
	hub.Publish(NewPendingCountEvent(1))
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe()
	defer cancel()

	// Publish past the buffer without draining; Publish must not block
	// and the overflow is dropped.
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(NewPendingCountEvent(int64(i)))
	}

	var received int
	for {
		select {
		case <-events:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}
