// Package mutex implements the kernel's three lock protocols (spec §4.7):
// plain (None), priority-inheritance, and immediate-priority-ceiling,
// including abandonment when an owner exits while still holding the
// lock.
//
// Grounded on constance's sync/mutex.rs for the Lock/TryLock/LockError
// shape (that file wraps a semaphore rather than implementing a native
// protocol, so the inheritance/ceiling propagation and the LIFO
// held-mutex discipline below are built directly from spec §4.7/§9
// instead), and on kernel/waitqueue for the always-priority-ordered wait
// list every mutex keeps.
package mutex

import (
	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/waitqueue"
)

// Protocol selects how a mutex affects its owner's effective priority.
type Protocol int

const (
	// None applies no priority effect; a low-priority owner can block
	// high-priority waiters for an unbounded time (priority inversion is
	// possible, by the caller's choice).
	None Protocol = iota
	// PriorityInheritance raises the owner's effective priority to match
	// the best-waiting task's whenever that would help, and lowers it
	// back on unlock.
	PriorityInheritance
	// Ceiling raises the owner's effective priority to a fixed ceiling
	// the instant it acquires the lock, regardless of who (if anyone) is
	// waiting.
	Ceiling
)

// Task is the set of task operations a Mutex needs in order to apply a
// protocol's priority effect and to propagate it along a chain of
// blocked-on-each-other tasks. kernel/task implements this; mutex never
// imports kernel/task, which keeps the dependency one-directional (a task
// holds *Mutex values, not the reverse).
type Task interface {
	waitqueue.Waiter // EffectivePriority() int

	BasePriority() int
	SetEffectivePriority(p int)

	// BlockedOnQueue returns the wait queue this task is currently
	// enqueued on, or nil if it is not blocked. Used to re-sort a
	// priority-ordered queue after this task's priority changes.
	BlockedOnQueue() *waitqueue.Queue

	// BlockedOnOwner returns the task that must act before this task can
	// proceed -- the owner of the mutex this task is waiting to lock --
	// and true, or (nil, false) if this task isn't blocked on a mutex.
	// Used to walk the priority-inheritance chain.
	BlockedOnOwner() (Task, bool)

	// PushHeld records m as the most recently acquired mutex in this
	// task's held-mutex list.
	PushHeld(m *Mutex)
	// PopHeld removes m from the held-mutex list, returning false
	// (without modifying the list) if m is not the most recently
	// acquired entry -- LIFO unlock discipline (spec §4.7 step 2).
	PopHeld(m *Mutex) bool
	// HeldMutexes iterates the held-mutex list, most recently acquired
	// first.
	HeldMutexes() []*Mutex
}

// Mutex is one lock object: a protocol tag, current owner (or nil), the
// "inconsistent" abandonment flag, and a task-priority-ordered wait
// queue.
type Mutex struct {
	protocol Protocol
	ceiling  int // meaningful only when protocol == Ceiling

	owner        Task
	inconsistent bool
	waitq        *waitqueue.Queue
}

// New returns an unowned mutex with the given protocol. ceiling is only
// consulted when protocol == Ceiling.
func New(protocol Protocol, ceiling int) *Mutex {
	return &Mutex{protocol: protocol, ceiling: ceiling, waitq: waitqueue.New(waitqueue.Priority)}
}

// Owner returns the current owner, or nil if unowned.
func (m *Mutex) Owner() Task { return m.owner }

// Protocol returns the lock protocol this mutex was configured with.
func (m *Mutex) Protocol() Protocol { return m.protocol }

// IsInconsistent reports whether a previous owner exited while holding
// this mutex without a subsequent MarkConsistent call.
func (m *Mutex) IsInconsistent() bool { return m.inconsistent }

type mutexWaiter struct {
	task Task
	err  error
	done chan struct{}
}

func (w *mutexWaiter) EffectivePriority() int { return w.task.EffectivePriority() }

// Lock attempts to acquire m on behalf of caller, per spec §4.7 step 1-3.
// On success it returns (true, nil, nil): the caller owns the mutex; if a
// previous owner abandoned it, the caller still becomes the owner and the
// result is (true, nil, errors.Abandoned). A Ceiling mutex returns
// errors.BadParam to a caller whose base priority is numerically below
// (more urgent than) the ceiling. On
// contention it enqueues the caller and returns (false, wait, nil); the
// caller must block on wait.Done() and then inspect wait.Err().
// acquired reports whether the lock was actually granted.
func (m *Mutex) Lock(caller Task) (acquired bool, wait *EnqueuedWait, err error) {
	if m.owner == caller {
		return false, nil, errors.WouldDeadlock
	}
	if m.protocol == Ceiling && caller.BasePriority() < m.ceiling {
		return false, nil, errors.BadParam
	}

	if m.owner == nil {
		m.grant(caller)
		if m.inconsistent {
			return true, nil, errors.Abandoned
		}
		return true, nil, nil
	}

	w := &mutexWaiter{task: caller, done: make(chan struct{})}
	m.waitq.Enqueue(w)
	if m.protocol == PriorityInheritance {
		m.propagateInheritance(m.owner, caller.EffectivePriority())
	}
	return false, &EnqueuedWait{m: m, w: w}, nil
}

// grant makes caller the owner, applying the protocol's immediate
// priority effect.
func (m *Mutex) grant(caller Task) {
	m.owner = caller
	caller.PushHeld(m)
	if m.protocol == Ceiling {
		if m.ceiling < caller.EffectivePriority() {
			caller.SetEffectivePriority(m.ceiling)
		}
	}
}

// propagateInheritance raises owner's effective priority to waiterPrio if
// that is numerically better (lower), re-sorts whatever queue owner is
// itself blocked on, and continues along the chain of mutex owners that
// are themselves blocked -- bounded by a visited set so a configuration
// bug that creates a lock cycle cannot loop forever.
func (m *Mutex) propagateInheritance(owner Task, waiterPrio int) {
	visited := map[Task]bool{}
	cur := owner
	prio := waiterPrio
	for cur != nil && !visited[cur] {
		visited[cur] = true
		if prio >= cur.EffectivePriority() {
			return
		}
		cur.SetEffectivePriority(prio)
		if q := cur.BlockedOnQueue(); q != nil {
			// The queue may hold wrappers around cur rather than cur
			// itself, so re-sort every entry instead of Reorder(cur).
			for _, w := range q.WakeAll() {
				q.Enqueue(w)
			}
		}
		next, ok := cur.BlockedOnOwner()
		if !ok {
			return
		}
		cur = next
	}
}

// EnqueuedWait is the handle returned by Lock when the caller had to
// block.
type EnqueuedWait struct {
	m *Mutex
	w *mutexWaiter
}

// Done returns the channel that closes once this wait resolves, either
// because the caller became the owner or because it was aborted.
func (e *EnqueuedWait) Done() <-chan struct{} { return e.w.done }

// Err returns the terminal error (Timeout, Interrupted, or Abandoned if
// the mutex was left inconsistent by the predecessor owner), or nil if
// the lock was granted cleanly.
func (e *EnqueuedWait) Err() error { return e.w.err }

// Abort removes a still-enqueued waiter and resolves it with err. No-op
// if the waiter already became the owner.
func (e *EnqueuedWait) Abort(err error) {
	if !e.m.waitq.Contains(e.w) {
		return
	}
	e.m.waitq.Remove(e.w)
	e.w.err = err
	close(e.w.done)
}

// Unlock releases m on behalf of caller, per spec §4.7's unlock steps.
// dispatchNeeded reports whether the caller's own effective priority just
// worsened while it was the running task, which the scheduler must act on
// by re-evaluating who should run next.
func (m *Mutex) Unlock(caller Task) (dispatchNeeded bool, err error) {
	if m.owner != caller {
		return false, errors.NotOwner
	}
	if !caller.PopHeld(m) {
		return false, errors.BadObjectState
	}

	before := caller.EffectivePriority()
	after := m.recomputeEffectivePriority(caller)
	caller.SetEffectivePriority(after)
	worsened := after > before

	m.owner = nil
	if w, ok := m.waitq.WakeOne().(*mutexWaiter); ok && w != nil {
		m.grant(w.task)
		if m.inconsistent {
			w.err = errors.Abandoned
		}
		close(w.done)
	}
	return worsened, nil
}

// recomputeEffectivePriority derives caller's effective priority as the
// most urgent (numerically smallest) of its base priority and the
// contribution of every mutex still in its held list -- a ceiling
// mutex contributes its ceiling, a priority-inheritance mutex contributes
// the best (lowest) waiting priority on it, if any.
func (m *Mutex) recomputeEffectivePriority(caller Task) int {
	best := caller.BasePriority()
	for _, held := range caller.HeldMutexes() {
		switch held.protocol {
		case Ceiling:
			if held.ceiling < best {
				best = held.ceiling
			}
		case PriorityInheritance:
			if w, ok := held.waitq.Peek().(*mutexWaiter); ok && w != nil {
				if w.task.EffectivePriority() < best {
					best = w.task.EffectivePriority()
				}
			}
		}
	}
	return best
}

// Abandon marks m inconsistent because its owner exited while still
// holding it (spec §4.7, "task exit while holding mutexes"). It does not
// unlink the (now-gone) owner's held-mutex list -- the exiting task's
// TCB is being torn down by the caller regardless -- but it does release
// ownership so a subsequent Lock can proceed and observe Abandoned.
func (m *Mutex) Abandon() {
	m.inconsistent = true
	m.owner = nil
	if w, ok := m.waitq.WakeOne().(*mutexWaiter); ok && w != nil {
		m.grant(w.task)
		w.err = errors.Abandoned
		close(w.done)
	}
}

// MarkConsistent clears the inconsistent flag after the caller (which
// must be the current owner, i.e. the task that received Abandoned from
// Lock and is now repairing the protected invariants) confirms things are
// repaired.
func (m *Mutex) MarkConsistent(caller Task) error {
	if !m.inconsistent {
		return errors.BadInheritance
	}
	if m.owner != caller {
		return errors.NotOwner
	}
	m.inconsistent = false
	return nil
}
