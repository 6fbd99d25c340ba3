// Package event implements event groups (spec §4.5): a bitset plus a FIFO
// wait queue, with AND/OR wait conditions and an optional clear-on-wake.
//
// Grounded on constance's event_group.rs for the Bits type and the
// ALL/CLEAR flag pair (there expressed as a bitflags! struct; Go has no
// third-party equivalent wired elsewhere in this tree, so the flags are a
// plain uint8 bitmask here), generalized to the full set/clear/wait state
// machine that the Rust source left as todo!().
package event

import (
	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/waitqueue"
)

// Bits is the event group's backing storage. The spec allows a
// configurable width; this port fixes it at 32 bits, matching constance's
// default EventGroupBits.
type Bits uint32

// WaitFlags selects a waiter's condition and post-wake behavior.
type WaitFlags uint8

const (
	// All requires every bit in the wait mask to be set (AND semantics).
	// Its absence means ANY bit in the mask suffices (OR semantics).
	All WaitFlags = 1 << 0
	// Clear removes the wait mask's bits from the group immediately
	// after this waiter's condition is found satisfied.
	Clear WaitFlags = 1 << 1
)

func (f WaitFlags) satisfied(bits, mask Bits) bool {
	if f&All != 0 {
		return bits&mask == mask
	}
	return bits&mask != 0
}

// waiter is the payload queued on Group.waitq while a task blocks in Wait.
// result (or err) is filled in by the waking side (Set, or Abort on a
// timeout/interrupt path) and done is closed exactly once to release the
// blocked caller.
type waiter struct {
	mask     Bits
	flags    WaitFlags
	priority int
	result   Bits
	err      error
	done     chan struct{}
}

func (w *waiter) EffectivePriority() int { return w.priority }

// Group is one event group: a bitset plus a FIFO-ordered wait queue. The
// wait-queue invariant from spec §3 -- whenever any task is waiting, the
// stored bits do not satisfy that task's condition -- is maintained by
// resolving every newly-satisfiable waiter inline, before releasing the
// critical section that Set/Clear run under.
type Group struct {
	bits  Bits
	waitq *waitqueue.Queue
}

// New returns an event group with all bits initially clear.
func New() *Group {
	return &Group{waitq: waitqueue.New(waitqueue.FIFO)}
}

// Get returns the currently set bits.
func (g *Group) Get() Bits { return g.bits }

// Set ORs bits into the group, then walks the wait queue in order,
// unblocking every waiter whose condition is now satisfied, and returns
// their wait handles in wake order so a caller driving tasks rather than
// goroutines (kernel.Kernel) knows exactly which blocked calls to move
// back to Ready. A waiter that requested Clear has its mask's bits
// cleared from the group immediately upon being satisfied, before the
// next waiter in the queue is evaluated -- so a later waiter in the same
// Set call can legitimately see a narrower set of bits than an earlier
// one (spec §4.5 ordering contract).
func (g *Group) Set(bits Bits) []*EnqueuedWait {
	g.bits |= bits
	return g.resolveWaiters()
}

// Clear ANDs the complement of bits into the group. Clearing can never
// satisfy a waiter, so no wait-queue walk is needed.
func (g *Group) Clear(bits Bits) {
	g.bits &^= bits
}

// resolveWaiters walks every currently enqueued waiter in order (not just
// the head: an unsatisfied waiter at the front of the queue must never
// block a satisfied one behind it from waking, per spec §4.5 and the
// §3 invariant that no waiting task's condition may go unnoticed once
// satisfied) and wakes each whose condition the current bits satisfy.
// Each waiter is evaluated against the live g.bits, so an earlier
// waiter's Clear side effect is visible to every waiter considered after
// it. Waiters left unsatisfied are re-enqueued in their original
// relative order; resolveWaiters is only ever called on a FIFO queue
// (event groups never use Priority), so re-enqueuing via Enqueue (a
// plain append) preserves that order exactly.
func (g *Group) resolveWaiters() []*EnqueuedWait {
	var woken []*EnqueuedWait
	pending := g.waitq.WakeAll()
	for _, entry := range pending {
		head, ok := entry.(*waiter)
		if !ok || head == nil {
			continue
		}
		if !head.flags.satisfied(g.bits, head.mask) {
			g.waitq.Enqueue(head)
			continue
		}
		head.result = g.bits
		if head.flags&Clear != 0 {
			g.bits &^= head.mask
		}
		close(head.done)
		woken = append(woken, &EnqueuedWait{g: g, w: head})
	}
	return woken
}

// Enqueue registers a blocked waiter with the given mask, flags and
// current effective priority, returning the waiter handle the caller
// blocks on (via its done channel) and later passes to Abort on timeout
// or interruption. The caller must already have confirmed the condition
// is not satisfied (Wait does this before calling Enqueue); Enqueue does
// not re-check it.
func (g *Group) Enqueue(mask Bits, flags WaitFlags, priority int) *EnqueuedWait {
	w := &waiter{mask: mask, flags: flags, priority: priority, done: make(chan struct{})}
	g.waitq.Enqueue(w)
	return &EnqueuedWait{g: g, w: w}
}

// EnqueuedWait is the handle a caller blocked in Wait holds while
// suspended, used to observe the outcome or to cancel on timeout/
// interruption.
type EnqueuedWait struct {
	g *Group
	w *waiter
}

// Done returns the channel that closes once this wait resolves, whether
// by Set satisfying it, or by Abort.
func (e *EnqueuedWait) Done() <-chan struct{} { return e.w.done }

// Result returns the bits observed at the moment this wait was satisfied
// (before any Clear requested by this wait is applied) and the terminal
// error, if Abort
// was used instead of a normal wake.
func (e *EnqueuedWait) Result() (Bits, error) { return e.w.result, e.w.err }

// Abort removes a still-enqueued waiter and resolves it with err (Timeout
// or Interrupted). It is a no-op if the waiter already woke naturally via
// Set racing ahead of the timeout/interrupt delivery.
func (e *EnqueuedWait) Abort(err error) {
	if !e.g.waitq.Contains(e.w) {
		return
	}
	e.g.waitq.Remove(e.w)
	e.w.err = err
	close(e.w.done)
}

// PollResult reports, without blocking or mutating state, whether mask
// under flags is already satisfied by the group's current bits, and if
// so, the bits observed. It does not report or apply any Clear side
// effect; flags is consulted only for the All/any test.
func (g *Group) PollResult(mask Bits, flags WaitFlags) (bits Bits, satisfied bool) {
	if !flags.satisfied(g.bits, mask) {
		return 0, false
	}
	return g.bits, true
}

// ErrBadParam is this package's alias for errors.BadParam. Nothing in the
// package returns it; an empty mask is not rejected by Enqueue or
// PollResult.
var ErrBadParam = errors.BadParam
