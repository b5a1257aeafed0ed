package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockPlatform tracks lock and notification calls and lets tests flip
// the session lock state.
type mockPlatform struct {
	mu            sync.Mutex
	locked        bool
	lockErr       error
	lockCalls     int
	notifications []string
}

func (m *mockPlatform) LockWorkstation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	if m.lockErr != nil {
		return m.lockErr
	}
	m.locked = true
	return nil
}

func (m *mockPlatform) SessionLocked() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked, nil
}

func (m *mockPlatform) Notify(title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, title+": "+message)
	return nil
}

func (m *mockPlatform) DeviceID() (string, error) {
	return "test-device", nil
}

func (m *mockPlatform) setLocked(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = v
}

func (m *mockPlatform) isLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

func (m *mockPlatform) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockCalls
}

func (m *mockPlatform) notifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

var _ Platform = (*mockPlatform)(nil)

// mockServerClient scripts heartbeat answers and event stream bodies.
type mockServerClient struct {
	mu            sync.Mutex
	remaining     int64
	err           error
	heartbeats    int
	batches       [][]int64
	eventPayloads []string
	eventsErr     error
}

func (m *mockServerClient) Heartbeat(ctx context.Context, minutes []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	m.batches = append(m.batches, slices.Clone(minutes))
	if m.err != nil {
		return 0, m.err
	}
	return m.remaining, nil
}

func (m *mockServerClient) OpenEvents(ctx context.Context) (io.ReadCloser, error) {
	m.mu.Lock()
	if m.eventsErr != nil {
		err := m.eventsErr
		m.mu.Unlock()
		return nil, err
	}
	if len(m.eventPayloads) > 0 {
		payload := m.eventPayloads[0]
		m.eventPayloads = m.eventPayloads[1:]
		m.mu.Unlock()
		return io.NopCloser(strings.NewReader(payload)), nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockServerClient) setResponse(remaining int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.err = err
}

func (m *mockServerClient) heartbeatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

func (m *mockServerClient) lastBatch() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return nil
	}
	return m.batches[len(m.batches)-1]
}

var _ ServerClient = (*mockServerClient)(nil)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ServerURL = "http://127.0.0.1:5151"
	cfg.ChildID = "alice"
	cfg.DeviceID = "laptop"
	cfg.LockPollSecs = 1
	cfg.RelockGraceSecs = 1
	return cfg
}

func newTestEnforcer(t *testing.T, client ServerClient, platform Platform, clock Clock) *Enforcer {
	t.Helper()
	pending, err := NewPendingMinutes(filepath.Join(t.TempDir(), "pending.json"), 100, testLogger())
	require.NoError(t, err)
	e := NewEnforcer(client, platform, pending, clock, testConfig(), testLogger())
	t.Cleanup(e.shutdown)
	return e
}

func TestEnforcer_PositiveBalanceKeepsSessionOpen(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{remaining: 10}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))

	assert.Equal(t, 1, client.heartbeatCount())
	assert.Equal(t, 0, platform.lockCount())
	assert.False(t, e.relocker.Armed())
	assert.False(t, e.countdown.Active())
	assert.Equal(t, 0, e.pending.Len(), "acknowledged minutes should be cleared")

	state := e.GetState()
	require.NotNil(t, state.LastRemaining)
	assert.Equal(t, int64(10), *state.LastRemaining)
	require.NotNil(t, state.LastHeartbeat)
}

func TestEnforcer_ExhaustedBalanceLocks(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{remaining: 0}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))

	assert.Equal(t, 1, platform.lockCount())
	assert.True(t, platform.isLocked())
	assert.True(t, e.relocker.Armed())
	assert.False(t, e.countdown.Active())
}

func TestEnforcer_NegativeBalanceLocks(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{remaining: -3}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))

	assert.True(t, e.relocker.Armed())
	assert.Equal(t, 1, platform.lockCount())
}

func TestEnforcer_FinalMinuteArmsWarning(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{remaining: 1}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))

	assert.True(t, e.countdown.Active())
	assert.False(t, e.relocker.Armed())
	assert.Equal(t, 0, platform.lockCount(), "warning must not lock yet")
}

func TestEnforcer_WarningCancelledByRecovery(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{remaining: 1}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))
	require.True(t, e.countdown.Active())

	// A reward grant lands before the minute runs out.
	client.setResponse(5, nil)
	clock.Advance(time.Minute)
	require.NoError(t, e.tick(context.Background()))

	assert.False(t, e.countdown.Active())
	assert.Equal(t, 0, platform.lockCount())
}

func TestEnforcer_SkipsWhileSessionLocked(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{remaining: 10}
	platform := &mockPlatform{locked: true}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))

	assert.Equal(t, 0, client.heartbeatCount())
	assert.Equal(t, 0, e.pending.Len(), "locked minutes are not counted")
}

func TestEnforcer_UnauthorizedIsTerminal(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{err: ErrUnauthorized}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	err := e.tick(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, e.relocker.Armed(), "must fail closed before exiting")
	assert.Equal(t, 1, platform.lockCount())
}

func TestEnforcer_PendingAccumulatesAcrossOutage(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{err: errors.New("connection refused")}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))
	clock.Advance(time.Minute)
	require.NoError(t, e.tick(context.Background()))
	assert.Equal(t, 2, e.pending.Len())

	client.setResponse(10, nil)
	clock.Advance(time.Minute)
	require.NoError(t, e.tick(context.Background()))

	assert.Len(t, client.lastBatch(), 3, "retry must carry the offline minutes")
	assert.Equal(t, 0, e.pending.Len())
}

func TestEnforcer_FailsafeLocksAfterOutage(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{err: errors.New("connection refused")}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	// Outage shorter than the failsafe window: stay open.
	for i := 0; i < 5; i++ {
		require.NoError(t, e.tick(context.Background()))
		assert.False(t, e.relocker.Armed(), "tick %d locked too early", i)
		clock.Advance(time.Minute)
	}

	// The fifth minute of downtime crosses the window.
	require.NoError(t, e.tick(context.Background()))
	assert.True(t, e.relocker.Armed())
	assert.Equal(t, 1, platform.lockCount())
	assert.True(t, e.GetState().FailsafeLocked)

	// Recovery through the event stream disarms the failsafe.
	e.HandleRemaining(5)
	assert.False(t, e.relocker.Armed())
}

func TestEnforcer_FailsafeWindowResetsOnSuccess(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{err: errors.New("connection refused")}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	require.NoError(t, e.tick(context.Background()))
	clock.Advance(3 * time.Minute)

	client.setResponse(10, nil)
	require.NoError(t, e.tick(context.Background()))
	require.Nil(t, e.GetState().FailingSince)

	// A fresh outage starts its own window.
	client.setResponse(0, errors.New("connection refused"))
	clock.Advance(time.Minute)
	require.NoError(t, e.tick(context.Background()))
	clock.Advance(4 * time.Minute)
	require.NoError(t, e.tick(context.Background()))
	assert.False(t, e.relocker.Armed())
}

func TestEnforcer_HandleRemainingFromStream(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	e.HandleRemaining(0)
	assert.True(t, e.relocker.Armed())
	assert.Equal(t, 1, platform.lockCount())

	platform.setLocked(false)
	e.HandleRemaining(7)
	assert.False(t, e.relocker.Armed())

	e.HandleRemaining(1)
	assert.True(t, e.countdown.Active())

	e.HandleRemaining(4)
	assert.False(t, e.countdown.Active())
}

func TestEnforcer_StartStop(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Unix(1_700_000_000, 0)}
	client := &mockServerClient{remaining: 10}
	platform := &mockPlatform{}
	e := newTestEnforcer(t, client, platform, clock)

	done := make(chan error, 1)
	go func() {
		done <- e.Start(context.Background())
	}()

	require.Eventually(t, func() bool {
		return client.heartbeatCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	e.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("enforcer did not stop")
	}
}
