package task

import (
	"testing"

	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/mutex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(prio int) *TCB {
	return New(&Attr{BasePrio: prio})
}

func TestActivateFromDormantTransitionsToPendingActivation(t *testing.T) {
	tc := newTestTask(5)
	require.NoError(t, tc.Activate())
	assert.Equal(t, PendingActivation, tc.State())
}

func TestActivateBeyondPendingBoundReturnsQueueOverflow(t *testing.T) {
	tc := newTestTask(5)
	require.NoError(t, tc.Activate())
	tc.MarkReady()
	err := tc.Activate()
	require.NoError(t, err)

	err = tc.Activate()
	assert.ErrorIs(t, err, errors.QueueOverflow)
}

func TestConsumePendingActivationReplaysAfterExit(t *testing.T) {
	tc := newTestTask(5)
	tc.Activate()
	tc.MarkReady()
	tc.MarkRunning()
	tc.Activate() // queued while running

	tc.MarkExit()
	assert.Equal(t, Dormant, tc.State())

	ok := tc.ConsumePendingActivation()
	assert.True(t, ok)
	assert.Equal(t, PendingActivation, tc.State())

	ok = tc.ConsumePendingActivation()
	assert.False(t, ok)
}

func TestParkTokenRoundTrip(t *testing.T) {
	tc := newTestTask(5)
	assert.False(t, tc.TryConsumePark())
	tc.Unpark()
	assert.True(t, tc.TryConsumePark())
	assert.False(t, tc.TryConsumePark())
}

func TestHeldMutexesLIFOOrderAndPop(t *testing.T) {
	tc := newTestTask(5)
	m1 := mutex.New(mutex.None, 0)
	m2 := mutex.New(mutex.None, 0)
	tc.PushHeld(m1)
	tc.PushHeld(m2)

	held := tc.HeldMutexes()
	require.Len(t, held, 2)
	assert.Equal(t, m2, held[0]) // most recently acquired first
	assert.Equal(t, m1, held[1])

	assert.False(t, tc.PopHeld(m1)) // not the LIFO top
	assert.True(t, tc.PopHeld(m2))
	assert.True(t, tc.PopHeld(m1))
}

func TestWakeReasonErrMapping(t *testing.T) {
	tc := newTestTask(5)
	tc.EndWait(WakeSatisfied)
	assert.NoError(t, tc.WakeReasonErr())

	tc.EndWait(WakeTimeout)
	assert.ErrorIs(t, tc.WakeReasonErr(), errors.Timeout)

	tc.EndWait(WakeInterrupted)
	assert.ErrorIs(t, tc.WakeReasonErr(), errors.Interrupted)

	tc.EndWait(WakeAbandoned)
	assert.ErrorIs(t, tc.WakeReasonErr(), errors.Abandoned)
}

func TestAbandonHeldMutexesMarksEachInconsistent(t *testing.T) {
	tc := newTestTask(5)
	m1 := mutex.New(mutex.None, 0)
	m2 := mutex.New(mutex.None, 0)
	m1.Lock(tc) // grants ownership, which pushes m1 onto tc's held stack
	m2.Lock(tc) // same, for m2

	tc.AbandonHeldMutexes()
	assert.True(t, m1.IsInconsistent())
	assert.True(t, m2.IsInconsistent())
}
