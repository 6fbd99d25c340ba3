// Package sem implements counting semaphores (spec §4.6): a bounded
// non-negative counter plus a wait queue, signaled and drained under the
// same CPU-lock discipline as every other kernel object.
//
// Grounded on the same constance-style object shape as kernel/event (a
// todo!()-stubbed Rust type in the original source, fleshed out here),
// reusing kernel/waitqueue for the blocked-waiter list exactly as event
// groups and mutexes do.
package sem

import (
	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/waitqueue"
)

type waiter struct {
	priority int
	err      error
	done     chan struct{}
}

func (w *waiter) EffectivePriority() int { return w.priority }

// Semaphore is a counter bounded by [0, max], plus a FIFO wait queue. The
// invariant from spec §3 -- the wait queue is non-empty only while the
// count is zero -- is maintained because Signal always drains the queue
// before leaving any of the incremented count unconsumed.
type Semaphore struct {
	count int64
	max   int64
	waitq *waitqueue.Queue
}

// New returns a semaphore with the given initial count and maximum. The
// config builder (spec §4.1) is responsible for rejecting initial > max
// before this constructor is ever reached.
func New(initial, max int64) *Semaphore {
	return &Semaphore{count: initial, max: max, waitq: waitqueue.New(waitqueue.FIFO)}
}

// Count returns the current counter value.
func (s *Semaphore) Count() int64 { return s.count }

// Signal increments the counter by n, failing with QueueOverflow if that
// would exceed max. After a successful increment, waiters are popped and
// unblocked one at a time, each consuming one unit of count, for as long
// as count remains positive and the queue is non-empty. It returns the
// woken waiters' handles in wake order, so a caller driving tasks rather
// than goroutines (kernel.Kernel) knows exactly which blocked calls to
// move back to Ready.
func (s *Semaphore) Signal(n int64) ([]*EnqueuedWait, error) {
	if s.count+n > s.max {
		return nil, errors.QueueOverflow
	}
	s.count += n
	var woken []*EnqueuedWait
	for s.count > 0 {
		w, ok := s.waitq.WakeOne().(*waiter)
		if !ok || w == nil {
			break
		}
		s.count--
		close(w.done)
		woken = append(woken, &EnqueuedWait{s: s, w: w})
	}
	return woken, nil
}

// TryWait attempts the non-blocking fast path: if count > 0, it
// decrements and returns true. Wait and Poll both call this before
// deciding whether to enqueue.
func (s *Semaphore) TryWait() bool {
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Enqueue registers a blocked waiter at the given effective priority,
// returning a handle the caller blocks on. Like kernel/event, Wait is
// expected to call TryWait first and only Enqueue on failure.
func (s *Semaphore) Enqueue(priority int) *EnqueuedWait {
	w := &waiter{priority: priority, done: make(chan struct{})}
	s.waitq.Enqueue(w)
	return &EnqueuedWait{s: s, w: w}
}

// EnqueuedWait is the handle a caller blocked in Wait holds while
// suspended.
type EnqueuedWait struct {
	s *Semaphore
	w *waiter
}

// Done returns the channel that closes once this wait resolves.
func (e *EnqueuedWait) Done() <-chan struct{} { return e.w.done }

// Err returns the terminal error if this wait resolved via Abort, or nil
// if it resolved normally via Signal.
func (e *EnqueuedWait) Err() error { return e.w.err }

// Abort removes a still-enqueued waiter and resolves it with err (Timeout
// or Interrupted). No-op if the waiter already woke via Signal.
func (e *EnqueuedWait) Abort(err error) {
	if !e.s.waitq.Contains(e.w) {
		return
	}
	e.s.waitq.Remove(e.w)
	e.w.err = err
	close(e.w.done)
}

// Drain sets the count to 0 without touching the wait queue. Per spec
// §4.6 this is safe without checking for waiters: the object invariant
// guarantees the queue is already empty whenever count was positive.
func (s *Semaphore) Drain() {
	s.count = 0
}
