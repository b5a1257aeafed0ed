package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountdown_WarnsAndFires(t *testing.T) {
	platform := &mockPlatform{}
	fired := make(chan struct{}, 1)
	c := NewCountdown(platform, RealClock{}, 40*time.Millisecond, func() {
		fired <- struct{}{}
	}, testLogger())
	c.tickEvery = 5 * time.Millisecond

	c.Arm(time.Now().Add(80 * time.Millisecond))
	require.True(t, c.Active())

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not fire")
	}
	assert.False(t, c.Active())
	assert.GreaterOrEqual(t, platform.notifyCount(), 1, "warning should be shown before the lock")
}

func TestCountdown_CancelPreventsFiring(t *testing.T) {
	platform := &mockPlatform{}
	fired := make(chan struct{}, 1)
	c := NewCountdown(platform, RealClock{}, 20*time.Millisecond, func() {
		fired <- struct{}{}
	}, testLogger())
	c.tickEvery = 5 * time.Millisecond

	c.Arm(time.Now().Add(60 * time.Millisecond))
	c.Cancel()
	assert.False(t, c.Active())

	select {
	case <-fired:
		t.Fatal("cancelled countdown must not fire")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCountdown_RearmMovesDeadline(t *testing.T) {
	platform := &mockPlatform{}
	fired := make(chan struct{}, 1)
	c := NewCountdown(platform, RealClock{}, 10*time.Millisecond, func() {
		fired <- struct{}{}
	}, testLogger())
	c.tickEvery = 5 * time.Millisecond

	c.Arm(time.Now().Add(40 * time.Millisecond))
	c.Arm(time.Now().Add(300 * time.Millisecond))

	select {
	case <-fired:
		t.Fatal("countdown fired on the stale deadline")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not fire on the moved deadline")
	}
}

func TestCountdown_CancelWhenIdleIsNoop(t *testing.T) {
	c := NewCountdown(&mockPlatform{}, RealClock{}, time.Second, func() {}, testLogger())
	c.Cancel()
	assert.False(t, c.Active())
}
