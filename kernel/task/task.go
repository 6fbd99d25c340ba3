// Package task implements the task control block and its state machine
// (spec §4.8, §3): Dormant, PendingActivation, Ready, Waiting, Running,
// plus the parking token, pending-activation counter, and the
// held-mutex stack priority inheritance walks along.
//
// Grounded on constance's kernel/task.rs for the TaskCb/TaskAttr split
// (static attributes vs. mutable control-block state) -- that file left
// every operation as todo!(), so the state machine itself is built from
// spec §4.8's transition table. TCB implements kernel/waitqueue.Waiter,
// kernel/mutex.Task, kernel/sched.Task and kernel/timeoutwheel.Entry so
// the same struct flows through all four without adapter types.
package task

import (
	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/mutex"
	"github.com/r3-os/r3-sub003/kernel/timeoutwheel"
	"github.com/r3-os/r3-sub003/kernel/waitqueue"
)

// State is a task's current position in the spec §4.8 state machine.
type State int

const (
	Dormant State = iota
	PendingActivation
	Ready
	Running
	Waiting
)

// WakeReason records why a Waiting task returned to Ready, for the
// blocking call that suspended it to turn into the right error (or nil
// for success).
type WakeReason int

const (
	WakeSatisfied WakeReason = iota
	WakeTimeout
	WakeInterrupted
	WakeAbandoned
)

// Attr holds a task's build-time-fixed attributes: spec §4.1's config
// builder constructs one Attr per declared task and never mutates it
// afterward.
type Attr struct {
	Entry     func(param uintptr)
	Param     uintptr
	BasePrio  int
	StackSize uintptr
}

const (
	// maxPendingActivations bounds the pending-activation counter (spec
	// §4.8: "implementation-defined saturation, typically 1"); an
	// activation beyond it is rejected with errors.QueueOverflow.
	maxPendingActivations = 1
)

// TCB is the mutable state data of one task.
type TCB struct {
	attr *Attr

	state     State
	effective int

	pendingActivations int
	parkToken          bool

	// heldMutexes is the LIFO stack of mutexes this task currently owns,
	// most recently acquired first -- kernel/mutex.Task.PushHeld/PopHeld.
	heldMutexes []*mutex.Mutex

	// blockedOnQueue/blockedOnOwner are set while Waiting on a mutex, so
	// kernel/mutex can walk the priority-inheritance chain through this
	// task to whatever it's itself blocked behind.
	blockedOnQueue *waitqueue.Queue
	blockedOnOwner mutex.Task

	// parked is set while Waiting as the result of Park specifically, as
	// opposed to Sleep/WaitEventGroup/WaitSemaphore, which also enqueue
	// on no waitqueue.Queue (nil) and track their real wait out-of-band
	// (a timeout-wheel entry, and for event/sem waits a pending-wait map
	// keyed by the object's own wait handle) -- BlockedOnQueue()==nil is
	// not by itself enough to tell a parked task from one of those, and
	// Unpark must only take its "wake immediately" branch for an actual
	// park.
	parked bool

	// heapIndex backs kernel/timeoutwheel.Entry: this task's position in
	// the timeout wheel while a timed wait is outstanding, or
	// timeoutwheel.NoHeapIndex otherwise.
	heapIndex  int
	deadlineUS uint64

	wakeReason WakeReason
}

// New returns a task in the Dormant state, per spec §3 ("TCB mutable
// fields are initialized on first activation" -- this constructor is that
// initialization point, run once at build()).
func New(attr *Attr) *TCB {
	return &TCB{
		attr:      attr,
		state:     Dormant,
		effective: attr.BasePrio,
		heapIndex: timeoutwheel.NoHeapIndex,
	}
}

// State returns the task's current state.
func (t *TCB) State() State { return t.state }

// BasePriority returns the build-time-fixed base priority.
func (t *TCB) BasePriority() int { return t.attr.BasePrio }

// Entry returns the task body function and its fixed startup parameter,
// for a port to run on whatever execution context it dispatches this
// task onto for the first time.
func (t *TCB) Entry() (func(uintptr), uintptr) { return t.attr.Entry, t.attr.Param }

// EffectivePriority returns the current effective priority -- base unless
// elevated by boost or a held mutex's protocol. Implements
// waitqueue.Waiter, mutex.Task and sched.Task.
func (t *TCB) EffectivePriority() int { return t.effective }

// SetEffectivePriority overwrites the effective priority. Callers
// (kernel/mutex's inheritance propagation, or the boost/unboost
// operations on the kernel facade) are responsible for re-queuing t on
// whatever ready or wait queue it currently sits on if that matters to
// the queue's ordering.
func (t *TCB) SetEffectivePriority(p int) { t.effective = p }

// Activate implements spec §4.8's activate(): from Dormant it initializes
// (priority reset, park token cleared) and transitions to
// PendingActivation for the caller to then place on the ready queue; from
// any other state it increments the pending-activation count, or returns
// errors.QueueOverflow and leaves the count unchanged if it is already at
// maxPendingActivations.
func (t *TCB) Activate() error {
	if t.state == Dormant {
		t.effective = t.attr.BasePrio
		t.parkToken = false
		t.pendingActivations = 0
		t.state = PendingActivation
		return nil
	}
	if t.pendingActivations >= maxPendingActivations {
		return errors.QueueOverflow
	}
	t.pendingActivations++
	return nil
}

// ConsumePendingActivation is called by the kernel facade when a task
// that just exited back to Dormant has a queued activation waiting; it
// re-runs the Dormant->PendingActivation transition and reports whether
// one was in fact pending.
func (t *TCB) ConsumePendingActivation() bool {
	if t.pendingActivations == 0 {
		return false
	}
	t.pendingActivations--
	t.effective = t.attr.BasePrio
	t.parkToken = false
	t.state = PendingActivation
	return true
}

// MarkReady transitions out of PendingActivation or Waiting into Ready,
// for the caller to then place on the scheduler's ready queue.
func (t *TCB) MarkReady() { t.state = Ready }

// MarkRunning transitions from Ready to Running (the dispatcher's job).
func (t *TCB) MarkRunning() { t.state = Running }

// MarkExit transitions from Running to Dormant (spec §4.8: "runs cleanup
// with mutex abandonment" -- the kernel facade is responsible for calling
// Abandon on every entry in HeldMutexes before or as part of this).
func (t *TCB) MarkExit() {
	t.state = Dormant
	t.heldMutexes = nil
	t.blockedOnQueue = nil
	t.blockedOnOwner = nil
}

// BeginWait transitions Running/Ready into Waiting, recording the queue
// it is now enqueued on (for mutex chain-walking and for Interrupt to
// find it).
func (t *TCB) BeginWait(q *waitqueue.Queue) {
	t.state = Waiting
	t.blockedOnQueue = q
	t.parked = false
	t.wakeReason = WakeSatisfied
}

// BeginParkWait is BeginWait(nil) plus marking this wait as a park
// specifically, so Unpark can tell it apart from a Sleep/WaitEventGroup/
// WaitSemaphore call, which also pass BeginWait a nil queue.
func (t *TCB) BeginParkWait() {
	t.BeginWait(nil)
	t.parked = true
}

// IsParked reports whether the task's current Waiting state was entered
// via Park, as opposed to any other wait that also tracks its waiter out
// of band (a timeout-wheel deadline, or an event-group/semaphore pending
// wait).
func (t *TCB) IsParked() bool { return t.parked }

// BeginWaitOnMutex is BeginWait plus recording which task must act before
// this one can proceed, for kernel/mutex's inheritance-chain walk.
func (t *TCB) BeginWaitOnMutex(q *waitqueue.Queue, owner mutex.Task) {
	t.BeginWait(q)
	t.blockedOnOwner = owner
}

// EndWait clears the blocked-on bookkeeping once a Waiting task is about
// to become Ready (by any of the wake reasons) or has been torn down by
// exit/abandon.
func (t *TCB) EndWait(reason WakeReason) {
	t.blockedOnQueue = nil
	t.blockedOnOwner = nil
	t.parked = false
	t.wakeReason = reason
}

// WakeReason reports why the most recent wait ended.
func (t *TCB) WakeReason() WakeReason { return t.wakeReason }

// WakeReasonErr converts WakeReason into the error a blocking call should
// return (nil for WakeSatisfied).
func (t *TCB) WakeReasonErr() error {
	switch t.wakeReason {
	case WakeTimeout:
		return errors.Timeout
	case WakeInterrupted:
		return errors.Interrupted
	case WakeAbandoned:
		return errors.Abandoned
	default:
		return nil
	}
}

// --- kernel/mutex.Task ---

// BlockedOnQueue implements mutex.Task.
func (t *TCB) BlockedOnQueue() *waitqueue.Queue { return t.blockedOnQueue }

// BlockedOnOwner implements mutex.Task.
func (t *TCB) BlockedOnOwner() (mutex.Task, bool) {
	if t.blockedOnOwner == nil {
		return nil, false
	}
	return t.blockedOnOwner, true
}

// PushHeld implements mutex.Task: m becomes the new top of the LIFO held
// stack.
func (t *TCB) PushHeld(m *mutex.Mutex) {
	t.heldMutexes = append(t.heldMutexes, m)
}

// PopHeld implements mutex.Task: only the top of the LIFO stack may be
// popped (spec §4.7 step 2, LIFO unlock discipline).
func (t *TCB) PopHeld(m *mutex.Mutex) bool {
	n := len(t.heldMutexes)
	if n == 0 || t.heldMutexes[n-1] != m {
		return false
	}
	t.heldMutexes = t.heldMutexes[:n-1]
	return true
}

// HeldMutexes implements mutex.Task, most recently acquired first.
func (t *TCB) HeldMutexes() []*mutex.Mutex {
	out := make([]*mutex.Mutex, len(t.heldMutexes))
	for i, m := range t.heldMutexes {
		out[len(out)-1-i] = m
	}
	return out
}

// AbandonHeldMutexes marks every mutex this task still owns as
// inconsistent and hands each to its next waiter, if any (spec §4.7,
// "task exit while holding mutexes"). Called by the kernel facade as
// part of exit/MarkExit, before the held list is cleared.
func (t *TCB) AbandonHeldMutexes() {
	for _, m := range t.heldMutexes {
		m.Abandon()
	}
}

// --- kernel/timeoutwheel.Entry ---

// DeadlineUS implements timeoutwheel.Entry.
func (t *TCB) DeadlineUS() uint64 { return t.deadlineUS }

// SetDeadlineUS records the absolute deadline for a timed wait, for the
// caller to then Insert t into the timeout wheel.
func (t *TCB) SetDeadlineUS(d uint64) { t.deadlineUS = d }

// SetHeapIndex implements timeoutwheel.Entry.
func (t *TCB) SetHeapIndex(i int) { t.heapIndex = i }

// HeapIndex implements timeoutwheel.Entry.
func (t *TCB) HeapIndex() int { return t.heapIndex }

// --- parking ---

// Unpark sets the parking token and does nothing else. If t is currently
// Waiting in its own park call (reported by IsParked), the caller is
// responsible for waking it; Unpark itself only flips the token, matching
// spec §4.8's "sets the token (saturating)" for the non-waiting case.
func (t *TCB) Unpark() { t.parkToken = true }

// TryConsumePark consumes the parking token if set, reporting whether it
// was. Used by park() to implement the "if set, proceed without
// blocking" fast path.
func (t *TCB) TryConsumePark() bool {
	if t.parkToken {
		t.parkToken = false
		return true
	}
	return false
}
