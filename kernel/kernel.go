// Package kernel is the facade that ties every sub-package into the
// system-call surface spec §4 describes: Build() consumes a declarative
// configuration function (spec §4.1), Boot() runs startup (spec §5),
// and the remaining methods are the task-visible operations (wait/
// signal/lock/timer/scheduler calls) plus TimerTick, the one entry point
// the port's tick ISR calls on every hardware tick (spec §4.10).
//
// Every exported method here asserts CPU-lock the way spec §5 requires
// ("CPU-lock is asserted on entry to every kernel system call and
// released on exit, or before dispatching to another task"): Port.
// EnterCPULock/LeaveCPULock bracket the method body, with LeaveCPULock
// released before the call hands control to another task via the port.
//
// kernel/event and kernel/sem resolve waiters by closing a done channel,
// a shape meant for a caller that blocks a real goroutine on it directly.
// This facade instead drives tasks through kernel/sched's ready queues,
// so it never waits on those channels: Set/Signal return the waiters
// they woke, and the maps below recover which task each one belongs to,
// so the facade can move that task back onto the ready queue itself.
package kernel

import (
	"github.com/r3-os/r3-sub003/kernel/cfg"
	"github.com/r3-os/r3-sub003/kernel/clock"
	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/event"
	"github.com/r3-os/r3-sub003/kernel/mutex"
	"github.com/r3-os/r3-sub003/kernel/port"
	"github.com/r3-os/r3-sub003/kernel/sched"
	"github.com/r3-os/r3-sub003/kernel/sem"
	"github.com/r3-os/r3-sub003/kernel/task"
	"github.com/r3-os/r3-sub003/kernel/timer"
	"github.com/r3-os/r3-sub003/kernel/trace"
)

// Kernel is one instance of the runtime object graph produced by
// cfg.Builder.Finish, plus the scheduling and dispatch state that only
// exists after Boot.
type Kernel struct {
	tables *cfg.Tables
	clk    *clock.Tickless
	sink   trace.Sink
	prt    port.Port

	hunkPool []byte

	ids map[*task.TCB]int // 1-based, populated once at Build time

	running int // 1-based task ID, 0 meaning "no task dispatched yet"
	boosted map[int]bool

	pendingEventWaits map[*event.EnqueuedWait]int
	pendingSemWaits   map[*sem.EnqueuedWait]int
	pendingMutexWaits map[*mutex.EnqueuedWait]int
}

// Build runs configure against a fresh cfg.Builder and materializes the
// result. numPriorityLevels is the kernel's fixed task-priority-level
// count (spec §3's ready queue is sized to it).
func Build(numPriorityLevels int, configure func(*cfg.Builder)) *Kernel {
	b := cfg.NewBuilder(numPriorityLevels)
	configure(b)
	tables := b.Finish()

	ids := make(map[*task.TCB]int, len(tables.Tasks))
	for i, t := range tables.Tasks {
		ids[t] = i + 1
	}

	return &Kernel{
		tables:            tables,
		sink:              trace.NopSink{},
		ids:               ids,
		boosted:           make(map[int]bool),
		pendingEventWaits: make(map[*event.EnqueuedWait]int),
		pendingSemWaits:   make(map[*sem.EnqueuedWait]int),
		pendingMutexWaits: make(map[*mutex.EnqueuedWait]int),
	}
}

// SetPort wires the CPU/architecture-specific collaborator. Must be
// called before Boot.
func (k *Kernel) SetPort(p port.Port) { k.prt = p }

// SetClock wires the tickless time module. Must be called before Boot.
func (k *Kernel) SetClock(c *clock.Tickless) { k.clk = c }

// SetSink replaces the diagnostic sink (default: trace.NopSink).
func (k *Kernel) SetSink(s trace.Sink) { k.sink = s }

// Tables exposes the object tables Build produced, for an embedder that
// needs to hand out task/event-group/... identifiers alongside the
// opaque ID map spec §4.1 describes constructing.
func (k *Kernel) Tables() *cfg.Tables { return k.tables }

func (k *Kernel) task(id int) *task.TCB { return k.tables.Tasks[id-1] }

func (k *Kernel) idOf(t *task.TCB) int { return k.ids[t] }

// Boot runs the startup sequence (spec §5): zero the hunk pool, run hunk
// initializers in registration order, run startup hooks in ascending
// (priority, order), then dispatch whatever activation the hooks
// produced. When a task is ready it does not return: DispatchFirstTask
// hands control to the first task's execution context. When no task is
// ready after the hooks have run, Boot returns without dispatching and
// without marking boot complete. Boot-time task activation is the
// embedder's responsibility, performed from a startup hook that calls
// ActivateTask -- mirroring how a declaratively "active at boot" task is
// just a config-time activate() call in the R3 family this is modeled
// on, with no separate code path in the kernel itself.
func (k *Kernel) Boot(hwNow uint32) {
	k.hunkPool = make([]byte, k.tables.HunkPoolLen)
	for i, h := range k.tables.HunkInits {
		if h.Init == nil {
			continue
		}
		off := k.tables.HunkOffsets[i]
		h.Init(k.hunkPool[off : off+h.Len])
	}

	for _, hook := range k.tables.StartupHooks {
		hook.Run()
	}

	next, priority, ok := k.tables.Scheduler.PopHighest()
	if !ok {
		return
	}
	nt := next.(*task.TCB)
	k.running = k.idOf(nt)
	nt.MarkRunning()
	k.tables.Scheduler.MarkBootComplete()
	k.sink.Trace(trace.EventDispatch, k.running, trace.F("priority", priority))
	k.prt.DispatchFirstTask(uintptr(k.running))
}

func (k *Kernel) effectivePriority(id int) int {
	if id == 0 {
		return 1 << 30
	}
	return k.task(id).EffectivePriority()
}

// --- task operations ---

// ActivateTask implements spec §4.8's activate().
func (k *Kernel) ActivateTask(id int) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	t := k.task(id)
	before := t.State()
	if err := t.Activate(); err != nil {
		return err
	}
	if before == task.Dormant {
		t.MarkReady()
		k.tables.Scheduler.AddReady(t, t.EffectivePriority())
		k.sink.Trace(trace.EventActivate, id)
		k.yieldIfHigherPriorityReady()
	}
	return nil
}

// ExitTask is called by the currently running task's own code (spec
// §4.8: "Running --exit/return--> Dormant", with mutex abandonment run
// as cleanup). It never returns: ExitAndDispatch hands control to
// whatever the scheduler picks next.
func (k *Kernel) ExitTask() {
	k.prt.EnterCPULock()
	id := k.running
	t := k.task(id)
	t.AbandonHeldMutexes()
	k.wakeMutexHandoffsFor(t)
	t.MarkExit()
	k.sink.Trace(trace.EventMutexAbandon, id)

	if t.ConsumePendingActivation() {
		t.MarkReady()
		k.tables.Scheduler.AddReady(t, t.EffectivePriority())
	}

	k.running = 0
	nextID := 0
	if next, _, ok := k.tables.Scheduler.PopHighest(); ok {
		nt := next.(*task.TCB)
		nt.MarkRunning()
		nextID = k.idOf(nt)
		k.running = nextID
	}
	k.prt.LeaveCPULock()
	k.prt.ExitAndDispatch(uintptr(nextID))
}

// wakeMutexHandoffsFor moves the new owner of each mutex t used to hold
// (now reassigned by AbandonHeldMutexes's calls to Mutex.Abandon) onto
// the ready queue. t.HeldMutexes is read before TCB.MarkExit clears it.
func (k *Kernel) wakeMutexHandoffsFor(t *task.TCB) {
	for _, m := range t.HeldMutexes() {
		if newOwner := m.Owner(); newOwner != nil {
			nt := newOwner.(*task.TCB)
			nt.EndWait(task.WakeAbandoned)
			nt.MarkReady()
			k.tables.Scheduler.AddReady(nt, nt.EffectivePriority())
		}
	}
}

// YieldCPU implements spec §4.8's explicit yield_cpu(): rotate the
// calling task to the tail of its own priority's ready queue and
// dispatch to whatever is now at the head system-wide.
func (k *Kernel) YieldCPU() {
	k.prt.EnterCPULock()
	id := k.running
	t := k.task(id)
	k.tables.Scheduler.Yield(t, t.EffectivePriority())
	t.MarkReady()
	k.dispatchNext()
	k.prt.LeaveCPULock()
	k.prt.YieldCPU(uintptr(k.running))
}

// InterruptTask implements spec §4.8's interrupt(): if target is
// Waiting, remove it from its wait queue and the timeout wheel, mark its
// wake reason Interrupted, and make it Ready.
func (k *Kernel) InterruptTask(id int) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	t := k.task(id)
	if t.State() != task.Waiting {
		return errors.BadObjectState
	}
	if q := t.BlockedOnQueue(); q != nil {
		q.Remove(t)
	}
	k.tables.Wheel.Remove(t)
	k.abortPendingMutexWait(id, errors.Interrupted)
	t.EndWait(task.WakeInterrupted)
	t.MarkReady()
	k.tables.Scheduler.AddReady(t, t.EffectivePriority())
	k.sink.Trace(trace.EventInterrupt, id)
	k.yieldIfHigherPriorityReady()
	return nil
}

// abortPendingMutexWait cancels id's outstanding Lock wait, if any --
// used by InterruptTask and TimerTick, the two paths that can resolve a
// blocked task some way other than the mutex itself granting ownership.
func (k *Kernel) abortPendingMutexWait(id int, err error) {
	for wait, waitingID := range k.pendingMutexWaits {
		if waitingID == id {
			wait.Abort(err)
			delete(k.pendingMutexWaits, wait)
			return
		}
	}
}

// Park / Unpark implement spec §4.8's binary parking token.
func (k *Kernel) Park() error {
	k.prt.EnterCPULock()
	id := k.running
	t := k.task(id)
	if t.TryConsumePark() {
		k.prt.LeaveCPULock()
		return nil
	}
	t.BeginParkWait()
	k.dispatchNext()
	k.prt.LeaveCPULock()
	k.prt.YieldCPU(uintptr(k.running))
	return t.WakeReasonErr()
}

// Unpark implements spec §4.8's unpark(): if target is Waiting
// specifically as the result of its own Park call, wake it immediately;
// otherwise (Ready/Running, or Waiting on a sleep/event-group/semaphore/
// mutex) it just sets the saturating token for a future Park to consume
// without blocking. Sleep/WaitEventGroup/WaitSemaphore also enter
// Waiting with no wait queue (they track their real waiter out of band,
// in the timeout wheel and the pending-wait maps), so TCB.IsParked --
// not BlockedOnQueue()==nil -- is what tells those apart from an actual
// park: waking one of those waits here instead of falling through would
// leave its timeout-wheel entry (and, for event/sem waits, the stranded
// pending-wait map entry) in place, which TimerTick would later act on
// against an already-Ready/Running task.
func (k *Kernel) Unpark(id int) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	t := k.task(id)
	if t.State() == task.Waiting && t.IsParked() {
		t.EndWait(task.WakeSatisfied)
		t.MarkReady()
		k.tables.Scheduler.AddReady(t, t.EffectivePriority())
		k.yieldIfHigherPriorityReady()
		return nil
	}
	t.Unpark()
	return nil
}

// Sleep implements spec §4.8's sleep(dur): Waiting with a deadline, and a
// Timeout wake reason is the expected (non-error) outcome.
func (k *Kernel) Sleep(durationUS uint64, hwNow uint32) error {
	k.prt.EnterCPULock()
	id := k.running
	t := k.task(id)
	now := k.clk.TickCount(uint64(hwNow))
	t.SetDeadlineUS(now + durationUS)
	t.BeginWait(nil)
	k.tables.Wheel.Insert(t)
	k.dispatchNext()
	k.prt.LeaveCPULock()
	k.prt.YieldCPU(uintptr(k.running))
	return nil
}

// BoostPriority / UnboostPriority implement spec §4.8's boost mode: while
// boosted, the task's effective priority is sched.BoostPriority,
// outranking any normal level. Recursive boosts are rejected.
func (k *Kernel) BoostPriority() error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	id := k.running
	if k.boosted[id] {
		return errors.BadObjectState
	}
	k.boosted[id] = true
	t := k.task(id)
	old := t.EffectivePriority()
	t.SetEffectivePriority(sched.BoostPriority)
	if t.State() == task.Ready {
		k.tables.Scheduler.Requeue(t, old, sched.BoostPriority)
	}
	k.sink.Trace(trace.EventBoost, id)
	return nil
}

func (k *Kernel) UnboostPriority() error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	id := k.running
	if !k.boosted[id] {
		return errors.BadObjectState
	}
	delete(k.boosted, id)
	t := k.task(id)
	t.SetEffectivePriority(t.BasePriority())
	if t.State() == task.Ready {
		k.tables.Scheduler.Requeue(t, sched.BoostPriority, t.BasePriority())
	}
	k.yieldIfHigherPriorityReady()
	return nil
}

// dispatchNext pops the scheduler's head and makes it Running, or leaves
// no task running if the ready set is empty (the idle condition).
func (k *Kernel) dispatchNext() {
	next, _, ok := k.tables.Scheduler.PopHighest()
	if ok {
		nt := next.(*task.TCB)
		nt.MarkRunning()
		k.running = k.idOf(nt)
	} else {
		k.running = 0
	}
}

// yieldIfHigherPriorityReady dispatches away from the running task if the
// scheduler's head is now more urgent than it. Before Boot's own first
// dispatch, k.running == 0 means "nothing dispatched yet", not "the CPU
// is idle and a dispatch is due" -- those only become the same thing
// once IsBootComplete is true. Without this guard, a startup hook that
// calls ActivateTask (the documented way to mark a task active at boot)
// would race Boot's own PopHighest/DispatchFirstTask step and either
// double-dispatch or deadlock the port.
func (k *Kernel) yieldIfHigherPriorityReady() {
	if !k.tables.Scheduler.IsBootComplete() {
		return
	}
	priority, ok := k.tables.Scheduler.HighestReady()
	if !ok {
		return
	}
	if k.running != 0 && priority >= k.effectivePriority(k.running) {
		return
	}
	prevID := k.running
	if prevID != 0 {
		prev := k.task(prevID)
		prev.MarkReady()
		k.tables.Scheduler.AddReady(prev, prev.EffectivePriority())
	}
	k.dispatchNext()
	// Every caller holds CPU-lock (released by its deferred
	// LeaveCPULock), so drop it across the switch and take it back on
	// return, keeping the caller's bracket balanced.
	next := uintptr(k.running)
	k.prt.LeaveCPULock()
	k.prt.YieldCPU(next)
	k.prt.EnterCPULock()
}

// --- event groups ---

// WaitEventGroup implements spec §4.5's wait(mask, flags, timeout?).
// timeoutUS == 0 behaves like the non-blocking poll variant
// (errors.WouldBlock instead of enqueuing); hwNow is only consulted when
// timeoutUS > 0.
func (k *Kernel) WaitEventGroup(egID int, mask event.Bits, flags event.WaitFlags, timeoutUS uint64, hwNow uint32) (event.Bits, error) {
	k.prt.EnterCPULock()
	g := k.tables.EventGroups[egID-1]
	if bits, ok := g.PollResult(mask, flags); ok {
		if flags&event.Clear != 0 {
			g.Clear(mask)
		}
		k.prt.LeaveCPULock()
		return bits, nil
	}
	if timeoutUS == 0 {
		k.prt.LeaveCPULock()
		return 0, errors.WouldBlock
	}

	id := k.running
	t := k.task(id)
	wait := g.Enqueue(mask, flags, t.EffectivePriority())
	k.pendingEventWaits[wait] = id
	t.BeginWait(nil)
	now := k.clk.TickCount(uint64(hwNow))
	t.SetDeadlineUS(now + timeoutUS)
	k.tables.Wheel.Insert(t)
	k.dispatchNext()
	k.prt.LeaveCPULock()
	k.prt.YieldCPU(uintptr(k.running))

	delete(k.pendingEventWaits, wait)
	if err := t.WakeReasonErr(); err != nil {
		wait.Abort(err)
		return 0, err
	}
	bits, _ := wait.Result()
	return bits, nil
}

// SetEventGroup implements spec §4.5's set(bits): OR the bits in, then
// move every task Set just satisfied back onto the ready queue.
func (k *Kernel) SetEventGroup(egID int, bits event.Bits) {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	woken := k.tables.EventGroups[egID-1].Set(bits)
	for _, w := range woken {
		k.wakeEventWaiter(w)
	}
	k.yieldIfHigherPriorityReady()
}

func (k *Kernel) wakeEventWaiter(w *event.EnqueuedWait) {
	id, ok := k.pendingEventWaits[w]
	if !ok {
		return
	}
	delete(k.pendingEventWaits, w)
	t := k.task(id)
	if q := t.BlockedOnQueue(); q != nil {
		q.Remove(t)
	}
	k.tables.Wheel.Remove(t)
	t.EndWait(task.WakeSatisfied)
	t.MarkReady()
	k.tables.Scheduler.AddReady(t, t.EffectivePriority())
	k.sink.Trace(trace.EventWake, id)
}

// ClearEventGroup implements spec §4.5's clear(bits).
func (k *Kernel) ClearEventGroup(egID int, bits event.Bits) {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()
	k.tables.EventGroups[egID-1].Clear(bits)
}

// --- semaphores ---

// SignalSemaphore implements spec §4.6's signal(n).
func (k *Kernel) SignalSemaphore(semID int, n int64) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	woken, err := k.tables.Semaphores[semID-1].Signal(n)
	if err != nil {
		return err
	}
	for _, w := range woken {
		k.wakeSemWaiter(w)
	}
	k.yieldIfHigherPriorityReady()
	return nil
}

func (k *Kernel) wakeSemWaiter(w *sem.EnqueuedWait) {
	id, ok := k.pendingSemWaits[w]
	if !ok {
		return
	}
	delete(k.pendingSemWaits, w)
	t := k.task(id)
	if q := t.BlockedOnQueue(); q != nil {
		q.Remove(t)
	}
	k.tables.Wheel.Remove(t)
	t.EndWait(task.WakeSatisfied)
	t.MarkReady()
	k.tables.Scheduler.AddReady(t, t.EffectivePriority())
	k.sink.Trace(trace.EventWake, id)
}

// WaitSemaphore implements spec §4.6's wait()/poll() (timeoutUS == 0 acts
// as poll, returning WouldBlock instead of enqueuing).
func (k *Kernel) WaitSemaphore(semID int, timeoutUS uint64, hwNow uint32) error {
	k.prt.EnterCPULock()
	s := k.tables.Semaphores[semID-1]
	if s.TryWait() {
		k.prt.LeaveCPULock()
		return nil
	}
	if timeoutUS == 0 {
		k.prt.LeaveCPULock()
		return errors.WouldBlock
	}

	id := k.running
	t := k.task(id)
	wait := s.Enqueue(t.EffectivePriority())
	k.pendingSemWaits[wait] = id
	t.BeginWait(nil)
	now := k.clk.TickCount(uint64(hwNow))
	t.SetDeadlineUS(now + timeoutUS)
	k.tables.Wheel.Insert(t)
	k.dispatchNext()
	k.prt.LeaveCPULock()
	k.prt.YieldCPU(uintptr(k.running))

	delete(k.pendingSemWaits, wait)
	if err := t.WakeReasonErr(); err != nil {
		wait.Abort(err)
		return err
	}
	return nil
}

// DrainSemaphore implements spec §4.6's drain().
func (k *Kernel) DrainSemaphore(semID int) {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()
	k.tables.Semaphores[semID-1].Drain()
}

// --- mutexes ---

// LockMutex implements spec §4.7's lock().
func (k *Kernel) LockMutex(mtxID int) error {
	k.prt.EnterCPULock()
	m := k.tables.Mutexes[mtxID-1]
	id := k.running
	t := k.task(id)

	var ownerBefore *task.TCB
	var ownerPrioBefore int
	if o := m.Owner(); o != nil {
		ownerBefore = o.(*task.TCB)
		ownerPrioBefore = ownerBefore.EffectivePriority()
	}

	acquired, wait, err := m.Lock(t)

	// Priority-inheritance propagation (mutex.propagateInheritance) only
	// re-sorts a queue the owner is itself Waiting on; it has no way to
	// reach into the scheduler's ready queue. If the owner was preempted
	// while holding m (Running -> Ready) rather than blocked, its ready
	// slot still reflects the pre-boost priority unless this facade fixes
	// it up here, the same way BoostPriority/UnboostPriority do.
	if ownerBefore != nil && ownerBefore.State() == task.Ready {
		if after := ownerBefore.EffectivePriority(); after != ownerPrioBefore {
			k.tables.Scheduler.Requeue(ownerBefore, ownerPrioBefore, after)
		}
	}

	if acquired {
		k.sink.Trace(trace.EventMutexLock, id, trace.F("protocol", mutexProtocolName(m.Protocol())))
		k.prt.LeaveCPULock()
		return err // nil, or errors.Abandoned
	}
	if err != nil {
		k.prt.LeaveCPULock()
		return err
	}

	k.pendingMutexWaits[wait] = id
	t.BeginWaitOnMutex(nil, m.Owner())
	k.dispatchNext()
	k.prt.LeaveCPULock()
	k.prt.YieldCPU(uintptr(k.running))

	delete(k.pendingMutexWaits, wait)
	return wait.Err()
}

// UnlockMutex implements spec §4.7's unlock().
func (k *Kernel) UnlockMutex(mtxID int) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	m := k.tables.Mutexes[mtxID-1]
	t := k.task(k.running)
	dispatchNeeded, err := m.Unlock(t)
	if err != nil {
		return err
	}
	if newOwner := m.Owner(); newOwner != nil {
		nt := newOwner.(*task.TCB)
		nt.EndWait(task.WakeSatisfied)
		nt.MarkReady()
		k.tables.Scheduler.AddReady(nt, nt.EffectivePriority())
	}
	if dispatchNeeded {
		k.yieldIfHigherPriorityReady()
	}
	return nil
}

// MarkMutexConsistent implements spec §4.7's mark_consistent().
func (k *Kernel) MarkMutexConsistent(mtxID int) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()
	return k.tables.Mutexes[mtxID-1].MarkConsistent(k.task(k.running))
}

// --- timers ---

// StartTimer implements spec §4.9's start().
func (k *Kernel) StartTimer(timerID int, hwNow uint32) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()
	now := k.clk.TickCount(uint64(hwNow))
	return k.tables.Timers[timerID-1].Start(k.tables.Wheel, now)
}

// StopTimer implements spec §4.9's stop().
func (k *Kernel) StopTimer(timerID int) error {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()
	return k.tables.Timers[timerID-1].Stop(k.tables.Wheel)
}

// SetTimerDelay implements spec §4.9's set_delay().
func (k *Kernel) SetTimerDelay(timerID int, delayUS uint64, hwNow uint32) {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()
	now := k.clk.TickCount(uint64(hwNow))
	k.tables.Timers[timerID-1].SetDelay(k.tables.Wheel, now, delayUS)
}

// SetTimerPeriod implements spec §4.9's set_period().
func (k *Kernel) SetTimerPeriod(timerID int, periodUS uint64) {
	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()
	k.tables.Timers[timerID-1].SetPeriod(periodUS)
}

// --- tick processing ---

// TimerTick is the one entry point the port's tick ISR calls (spec
// §4.10). It pops every due entry from the timeout wheel -- tasks whose
// timed wait expired, and timers whose deadline arrived -- resolves
// each, then dispatches if a higher-priority task became ready as a
// result.
func (k *Kernel) TimerTick(hwNow uint32) {
	k.tables.Scheduler.EnterInterrupt()
	defer k.tables.Scheduler.LeaveInterrupt()

	k.prt.EnterCPULock()
	defer k.prt.LeaveCPULock()

	now := k.clk.TickCount(uint64(hwNow))
	for {
		e := k.tables.Wheel.PopDue(now)
		if e == nil {
			break
		}
		switch v := e.(type) {
		case *task.TCB:
			id := k.idOf(v)
			if q := v.BlockedOnQueue(); q != nil {
				q.Remove(v)
			}
			k.abortPendingMutexWait(id, errors.Timeout)
			v.EndWait(task.WakeTimeout)
			v.MarkReady()
			k.tables.Scheduler.AddReady(v, v.EffectivePriority())
			k.sink.Trace(trace.EventTimeout, id)
		case *timer.Timer:
			v.CatchUp(k.tables.Wheel, now)
			k.sink.Trace(trace.EventTimerFire, 0)
		}
	}
	k.yieldIfHigherPriorityReady()
}

// --- state queries ---

func (k *Kernel) IsTaskContext() bool      { return k.prt.IsTaskContext() }
func (k *Kernel) IsInterruptContext() bool { return k.prt.IsInterruptContext() }
func (k *Kernel) IsCPULockActive() bool    { return k.prt.IsCPULockActive() }

// RunningTaskID returns the currently running task's 1-based ID, or 0 if
// no task has been dispatched (pre-Boot, or the ready set is empty).
func (k *Kernel) RunningTaskID() int { return k.running }

// mutexProtocolName renders a protocol for trace output, since
// kernel/trace takes arbitrary fields rather than importing kernel/mutex
// itself.
func mutexProtocolName(p mutex.Protocol) string {
	switch p {
	case mutex.None:
		return "none"
	case mutex.PriorityInheritance:
		return "priority-inheritance"
	case mutex.Ceiling:
		return "ceiling"
	default:
		return "unknown"
	}
}
