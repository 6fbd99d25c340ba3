package timer

import (
	"testing"
	"time"

	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/timeoutwheel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartInsertsIntoWheelAtNowPlusDelay(t *testing.T) {
	w := timeoutwheel.New(0)
	var fired int
	tm := New(func(uintptr) { fired++ }, 0, 1000, InfiniteDelay)

	require.NoError(t, tm.Start(w, 500))
	assert.Equal(t, Active, tm.State())
	assert.Equal(t, uint64(1500), tm.DeadlineUS())
	assert.Equal(t, 1, w.Len())
}

func TestStartWithInfiniteDelayOccupiesNoWheelSlot(t *testing.T) {
	w := timeoutwheel.New(0)
	tm := New(func(uintptr) {}, 0, InfiniteDelay, InfiniteDelay)

	require.NoError(t, tm.Start(w, 0))
	assert.Equal(t, 0, w.Len())
}

func TestStartWhileAlreadyActiveFails(t *testing.T) {
	w := timeoutwheel.New(0)
	tm := New(func(uintptr) {}, 0, 1000, InfiniteDelay)
	tm.Start(w, 0)
	err := tm.Start(w, 0)
	assert.ErrorIs(t, err, errors.BadObjectState)
}

func TestStopRemovesFromWheel(t *testing.T) {
	w := timeoutwheel.New(0)
	tm := New(func(uintptr) {}, 0, 1000, InfiniteDelay)
	tm.Start(w, 0)
	require.NoError(t, tm.Stop(w))
	assert.Equal(t, Dormant, tm.State())
	assert.Equal(t, 0, w.Len())
}

func TestOneShotFireGoesDormant(t *testing.T) {
	w := timeoutwheel.New(0)
	var fired int
	tm := New(func(uintptr) { fired++ }, 0, 100, InfiniteDelay)
	tm.Start(w, 0)

	w.PopDue(100)
	tm.Fire()

	assert.Equal(t, 1, fired)
	assert.Equal(t, Dormant, tm.State())
}

// A periodic timer's next deadline is previous-deadline + period, not
// now + period, so it doesn't drift. (S3 itself is covered by
// TestZeroPeriodTimerSelfCoalescesFromWithinCallback below.)
func TestPeriodicFireReinsertsAtPreviousDeadlinePlusPeriod(t *testing.T) {
	w := timeoutwheel.New(0)
	var fired int
	tm := New(func(uintptr) { fired++ }, 0, 100, 50)
	tm.Start(w, 0) // deadline = 100

	w.PopDue(100)
	tm.Fire()
	assert.Equal(t, uint64(150), tm.DeadlineUS())
	w.Insert(tm)

	w.PopDue(150)
	tm.Fire()
	assert.Equal(t, uint64(200), tm.DeadlineUS())
	assert.Equal(t, 2, fired)
}

// S4: overdue tick catch-up -- if the kernel falls behind by more than
// one period, CatchUp fires every missed tick and leaves the timer
// scheduled strictly in the future.
func TestCatchUpFiresEveryOverdueTick(t *testing.T) {
	w := timeoutwheel.New(0)
	var fired int
	tm := New(func(uintptr) { fired++ }, 0, 100, 50)
	tm.Start(w, 0) // deadline = 100

	w.PopDue(1000000)
	tm.CatchUp(w, 290) // now far past several periods: 100,150,...,290

	assert.Greater(t, fired, 1)
	assert.Greater(t, tm.DeadlineUS(), uint64(290))
	assert.Equal(t, 1, w.Len())
}

func TestSetDelayReinsertsActiveTimerWithoutWheelEntry(t *testing.T) {
	w := timeoutwheel.New(0)
	tm := New(func(uintptr) {}, 0, InfiniteDelay, InfiniteDelay)
	tm.Start(w, 0)
	assert.Equal(t, 0, w.Len())

	tm.SetDelay(w, 1000, 500)
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, uint64(1500), tm.DeadlineUS())
}

func TestSetDelayOnDormantTimerJustStoresValue(t *testing.T) {
	w := timeoutwheel.New(0)
	tm := New(func(uintptr) {}, 0, 100, InfiniteDelay)
	tm.SetDelay(w, 0, 999)
	assert.Equal(t, 0, w.Len())
	require.NoError(t, tm.Start(w, 0))
	assert.Equal(t, uint64(999), tm.DeadlineUS())
}

// S3 (literal scenario): period=0, delay=0 timer fires immediately, and
// from inside its own callback reconfigures itself to delay=period=400ms
// via SetDelay/SetPeriod. Fire must not re-enter the callback immediately
// (no second fire this tick) and must leave the timer's next deadline
// exactly where the callback put it, not also bump it by the (now-400ms)
// period on top.
func TestZeroPeriodTimerSelfCoalescesFromWithinCallback(t *testing.T) {
	w := timeoutwheel.New(0)
	var fired int
	var tm *Timer
	tm = New(func(uintptr) {
		fired++
		tm.SetPeriod(400)
		tm.SetDelay(w, 0, 400)
	}, 0, 0, 0)
	require.NoError(t, tm.Start(w, 0)) // deadline = 0, fires on the first tick

	w.PopDue(0)
	tm.Fire()

	assert.Equal(t, 1, fired)
	assert.Equal(t, Active, tm.State())
	assert.Equal(t, uint64(400), tm.DeadlineUS())
	assert.Equal(t, 1, w.Len())
}

// A timer whose period never advances past zero (no callback reschedules
// it either) must not spin CatchUp forever: it fires once more, then
// CatchUp stops and reinserts it at its still-due deadline rather than
// looping indefinitely.
func TestCatchUpStopsOnNonAdvancingZeroPeriod(t *testing.T) {
	w := timeoutwheel.New(0)
	var fired int
	tm := New(func(uintptr) { fired++ }, 0, 100, 0)
	tm.Start(w, 0) // deadline = 100

	w.PopDue(1000000)
	done := make(chan struct{})
	go func() {
		tm.CatchUp(w, 500)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CatchUp spun forever on a non-advancing zero period")
	}

	assert.Equal(t, 2, fired)
	assert.Equal(t, uint64(100), tm.DeadlineUS())
	assert.Equal(t, 1, w.Len())
}
