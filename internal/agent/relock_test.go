package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelocker(platform Platform) *Relocker {
	r := NewRelocker(platform, RealClock{}, 10*time.Millisecond, 20*time.Millisecond, testLogger())
	r.debounce = 0
	return r
}

func TestRelocker_LocksImmediatelyOnArm(t *testing.T) {
	platform := &mockPlatform{}
	r := newTestRelocker(platform)
	defer r.Disarm()

	r.Arm()

	assert.Equal(t, 1, platform.lockCount())
	assert.True(t, platform.isLocked())
	assert.True(t, r.Armed())
}

func TestRelocker_ArmIsIdempotent(t *testing.T) {
	platform := &mockPlatform{}
	r := newTestRelocker(platform)
	defer r.Disarm()

	r.Arm()
	r.Arm()

	assert.Equal(t, 1, platform.lockCount())
}

func TestRelocker_RelocksAfterManualUnlock(t *testing.T) {
	platform := &mockPlatform{}
	r := newTestRelocker(platform)
	defer r.Disarm()

	r.Arm()
	require.Equal(t, 1, platform.lockCount())

	// A parent unlocks by hand; the grace expires without a grant.
	platform.setLocked(false)

	require.Eventually(t, func() bool {
		return platform.lockCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, platform.isLocked())
	assert.GreaterOrEqual(t, platform.notifyCount(), 1, "the re-lock should be announced")
}

func TestRelocker_DisarmStopsLoop(t *testing.T) {
	platform := &mockPlatform{}
	r := newTestRelocker(platform)

	r.Arm()
	r.Disarm()
	assert.False(t, r.Armed())

	platform.setLocked(false)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, platform.lockCount(), "disarmed loop must not lock again")
}

func TestRelocker_DisarmWhenIdleIsNoop(t *testing.T) {
	r := newTestRelocker(&mockPlatform{})
	r.Disarm()
	assert.False(t, r.Armed())
}
