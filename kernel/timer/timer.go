// Package timer implements user-visible software timers (spec §4.9): a
// Dormant/Active state machine whose Active deadlines live in the
// timeout wheel, including the self-coalescing periodic-timer and
// overdue-catch-up behaviors.
//
// There is no close original_source analogue (constance/r3_kernel's
// timer type was not among the retrieved files), so this is built
// directly from spec §4.9, reusing kernel/timeoutwheel.Entry the same
// way kernel/task.TCB does for timed waits.
package timer

import (
	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/timeoutwheel"
)

// State is a timer's position in its two-state machine.
type State int

const (
	Dormant State = iota
	Active
)

// InfiniteDelay marks a delay or period as "never fires on its own" --
// an Active timer with an infinite delay occupies no timeout-wheel slot
// (spec §4.9: "If delay is infinite, move to Active with no wheel
// entry.").
const InfiniteDelay = ^uint64(0)

// Callback is invoked by the port's tick ISR when the timer's deadline is
// reached, with the configured parameter. It runs in interrupt context
// (spec §4.9), so it must not block.
type Callback func(param uintptr)

// Timer is one software timer.
type Timer struct {
	callback Callback
	param    uintptr

	state  State
	delay  uint64 // delay-until-first-fire from the moment Start is called
	period uint64 // InfiniteDelay means one-shot

	deadlineUS uint64
	heapIndex  int
}

// inWheel reports whether t currently occupies a timeout-wheel slot, by
// asking the wheel's own bookkeeping (SetHeapIndex(NoHeapIndex) is called
// by Wheel.Remove/removeAt) rather than tracking a second, independently
// maintained flag that could drift out of sync with it.
func (t *Timer) inWheel() bool { return t.heapIndex != timeoutwheel.NoHeapIndex }

// New returns a Dormant timer with the given callback, initial delay and
// period. Use InfiniteDelay for either to mean "never" / "one-shot".
func New(callback Callback, param uintptr, delay, period uint64) *Timer {
	return &Timer{
		callback:  callback,
		param:     param,
		delay:     delay,
		period:    period,
		heapIndex: timeoutwheel.NoHeapIndex,
	}
}

// State returns the timer's current state.
func (t *Timer) State() State { return t.state }

// --- kernel/timeoutwheel.Entry ---

func (t *Timer) DeadlineUS() uint64 { return t.deadlineUS }
func (t *Timer) SetHeapIndex(i int) { t.heapIndex = i }
func (t *Timer) HeapIndex() int     { return t.heapIndex }

// Start transitions a Dormant timer to Active, computing its first
// deadline as nowUS + delay (spec §4.9 start()). If delay is
// InfiniteDelay the timer becomes Active without entering w at all; the
// caller never sees a wheel insertion to undo later. Starting an
// already-Active timer fails BadObjectState.
func (t *Timer) Start(w *timeoutwheel.Wheel, nowUS uint64) error {
	if t.state == Active {
		return errors.BadObjectState
	}
	t.state = Active
	if t.delay == InfiniteDelay {
		return nil
	}
	t.deadlineUS = nowUS + t.delay
	w.Insert(t)
	return nil
}

// Stop transitions an Active timer back to Dormant, removing it from the
// wheel if it was in one. No-op (BadObjectState) if already Dormant.
func (t *Timer) Stop(w *timeoutwheel.Wheel) error {
	if t.state != Active {
		return errors.BadObjectState
	}
	if t.inWheel() {
		w.Remove(t)
	}
	t.state = Dormant
	return nil
}

// SetDelay updates the stored initial delay (spec §4.9 set_delay). If the
// timer is Active and currently has no wheel entry (it was started or
// last reinserted with InfiniteDelay), and the new delay is finite, it is
// inserted now with deadline = nowUS + delay. If it already has a wheel
// entry, that entry is reinserted with the new deadline. Mirrors the
// same rules for an Active timer that has not yet fired for the first
// time; once a periodic timer is running, SetPeriod is the knob that
// matters for subsequent fires.
func (t *Timer) SetDelay(w *timeoutwheel.Wheel, nowUS uint64, delay uint64) {
	t.delay = delay
	if t.state != Active {
		return
	}
	if t.inWheel() {
		w.Remove(t)
	}
	if delay != InfiniteDelay {
		t.deadlineUS = nowUS + delay
		w.Insert(t)
	}
}

// SetPeriod updates the stored period (spec §4.9 set_period). This never
// touches the wheel directly -- the effect is observed the next time Fire
// computes a reinsertion deadline.
func (t *Timer) SetPeriod(period uint64) { t.period = period }

// Fire is called by the kernel facade when the timeout wheel pops this
// timer. It invokes the callback, then -- if period is finite -- sets
// deadline = previous deadline + period (never now + period, so
// periodicity survives an overdue condition instead of drifting). Fire
// does not put the timer back into the wheel; CatchUp does that. If the
// kernel is far enough behind that even the new deadline is already due,
// CatchUp calls Fire again in a loop rather than Fire silently skipping
// ticks.
//
// A callback is allowed to reconfigure t itself via SetDelay/SetPeriod
// (spec §4.9/S3: a zero-period timer that sets delay=period=400ms from
// inside its own callback must not be re-entered immediately, and must
// next fire 400ms out). SetDelay reinserts t into the wheel immediately
// when it does this, so Fire checks t.inWheel() after the callback
// returns: if the callback already rescheduled t, Fire leaves it exactly
// as the callback left it rather than also bumping deadlineUS by period,
// which would mutate the key of an entry already sitting in the wheel
// without resifting it there and corrupt heap order.
func (t *Timer) Fire() {
	t.callback(t.param)
	if t.state != Active || t.inWheel() {
		return
	}
	if t.period == InfiniteDelay {
		t.state = Dormant
		return
	}
	t.deadlineUS += t.period
}

// CatchUp re-fires t as many times as its deadline is already <= nowUS,
// advancing deadlineUS by one period per overdue tick, then reinserts it
// into w at the resulting (now-future, or still-Dormant) deadline. This
// is the "overdue ticks are dispatched sequentially until the scheduled
// fire time is in the future" behavior from spec §4.9, split out from
// Fire so that Fire handles exactly one expiry: kernel.Kernel.TimerTick
// calls CatchUp once per timer the wheel pops, and CatchUp loops here
// until the deadline is in the future.
//
// If a callback reschedules t itself (Fire's t.inWheel() case), CatchUp
// stops immediately rather than looping or reinserting again -- the
// callback already owns t's next deadline. And if a still-zero period
// genuinely never advances deadlineUS (no callback rescheduled it
// either), the loop would otherwise never terminate; CatchUp detects a
// Fire call that made no progress and stops after that iteration,
// reinserting t at its still-due deadline so the next TimerTick's
// PopDue fires it again rather than this call spinning forever.
func (t *Timer) CatchUp(w *timeoutwheel.Wheel, nowUS uint64) {
	t.Fire()
	if t.state != Active || t.inWheel() {
		return
	}
	for t.deadlineUS <= nowUS {
		prev := t.deadlineUS
		t.Fire()
		if t.state != Active || t.inWheel() {
			return
		}
		if t.deadlineUS == prev {
			break
		}
	}
	w.Insert(t)
}
