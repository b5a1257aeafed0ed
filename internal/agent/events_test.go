package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectRemaining runs the listener in the background and gathers every
// dispatched balance update.
func collectRemaining(t *testing.T, client ServerClient, childID string) (func() []int64, *EventListener, context.CancelFunc, chan struct{}) {
	t.Helper()

	var mu sync.Mutex
	var got []int64
	listener := NewEventListener(client, childID, func(remaining int64) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, remaining)
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Start(ctx)
		close(done)
	}()

	snapshot := func() []int64 {
		mu.Lock()
		defer mu.Unlock()
		return append([]int64(nil), got...)
	}
	return snapshot, listener, cancel, done
}

func waitStopped(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestEventListener_DispatchesOwnChildUpdates(t *testing.T) {
	stream := strings.Join([]string{
		"event:ping",
		"data:2026-08-25T10:00:00Z",
		"event:message",
		`data:{"type":"pending_count","count":2}`,
		"event:message",
		`data:{"type":"remaining_updated","child_id":"bob","remaining_minutes":8}`,
		"event:message",
		`data:{"type":"remaining_updated","child_id":"alice","remaining_minutes":3}`,
		"",
	}, "\n")
	client := &mockServerClient{eventPayloads: []string{stream}}

	snapshot, _, cancel, done := collectRemaining(t, client, "alice")
	defer cancel()

	require.Eventually(t, func() bool {
		return len(snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	waitStopped(t, done)

	assert.Equal(t, []int64{3}, snapshot(), "pings, other event types and other children are ignored")
}

func TestEventListener_ReconnectsAfterStreamEnds(t *testing.T) {
	first := "data:{\"type\":\"remaining_updated\",\"child_id\":\"alice\",\"remaining_minutes\":3}\n"
	second := "data:{\"type\":\"remaining_updated\",\"child_id\":\"alice\",\"remaining_minutes\":9}\n"
	client := &mockServerClient{eventPayloads: []string{first, second}}

	snapshot, _, cancel, done := collectRemaining(t, client, "alice")
	defer cancel()

	require.Eventually(t, func() bool {
		return len(snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	waitStopped(t, done)

	assert.Equal(t, []int64{3, 9}, snapshot(), "a dropped stream is picked up again")
}

func TestEventListener_StopDuringBackoff(t *testing.T) {
	client := &mockServerClient{eventsErr: errors.New("connection refused")}

	_, listener, cancel, done := collectRemaining(t, client, "alice")
	defer cancel()

	// Give the listener a moment to fail its first connect and enter
	// the retry wait, then stop it there.
	time.Sleep(50 * time.Millisecond)
	listener.Stop()
	waitStopped(t, done)
}
