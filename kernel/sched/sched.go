// Package sched implements the ready-queue half of the scheduler (spec
// §4.8): one FIFO per priority level, plus a bitmap that marks which
// levels are non-empty so the kernel can find the highest-priority
// runnable task without scanning every level.
//
// The "find the lowest set bit" step is the same trick the teacher's
// out-of-order issue scheduler uses to encode its ready bitmap into
// issue-slot indices (proto/ooo/ooo.go's SelectIssueBundle, built on
// math/bits.LeadingZeros32) -- this package uses
// math/bits.TrailingZeros64 instead, because here priority 0 is the most
// urgent (the convention is inverted from the teacher's "higher bit index
// wins" issue-tier encoding) and up to 64 priority levels are addressed
// rather than 32 issue slots.
package sched

import (
	"math/bits"

	"github.com/r3-os/r3-sub003/kernel/waitqueue"
	"go.uber.org/atomic"
)

// BoostPriority is the effective priority a task has while it has called
// boost_priority: numerically below (higher urgency than) any priority a
// config can declare.
const BoostPriority = -1

// Task is what the scheduler needs from a runnable entity to place it on
// a ready queue. kernel/task.TCB implements this.
type Task interface {
	waitqueue.Waiter // EffectivePriority() int
}

// Scheduler holds one FIFO per priority level (plus one extra slot for
// BoostPriority, at index 0), a bitmap over those slots, and a pair of
// published diagnostic counters (spec §4.10's interrupt-dispatch
// accounting): interrupt-nesting depth and the boot-complete flag. These
// two are read by the kernel facade and by tests without taking CPU-lock, so
// they're go.uber.org/atomic values rather than plain fields guarded by
// the same lock every ready-queue mutation already requires.
type Scheduler struct {
	numLevels int
	queues    []*waitqueue.Queue
	bitmap    uint64

	interruptDepth atomic.Int32
	bootComplete   atomic.Bool
}

// New returns a scheduler configured for numLevels normal priority levels
// (0..numLevels-1, numerically lower is more urgent), as declared by the
// config builder's num_task_priority_levels. numLevels must be small
// enough that numLevels+1 (the +1 for BoostPriority) fits in the bitmap's
// 64 bits; the config builder enforces this at build time.
func New(numLevels int) *Scheduler {
	s := &Scheduler{numLevels: numLevels}
	s.queues = make([]*waitqueue.Queue, numLevels+1)
	for i := range s.queues {
		s.queues[i] = waitqueue.New(waitqueue.FIFO)
	}
	return s
}

// EnterInterrupt / LeaveInterrupt bracket one ISR-context kernel call
// (kernel.Kernel.TimerTick is the one caller in this tree),
// publishing nesting depth for diagnostics. LeaveInterrupt floors at
// zero rather than going negative on an unbalanced call.
func (s *Scheduler) EnterInterrupt() { s.interruptDepth.Inc() }

func (s *Scheduler) LeaveInterrupt() {
	if s.interruptDepth.Load() > 0 {
		s.interruptDepth.Dec()
	}
}

// InterruptDepth reports the current interrupt-nesting depth.
func (s *Scheduler) InterruptDepth() int32 { return s.interruptDepth.Load() }

// MarkBootComplete flips the published boot-complete flag. Called once,
// by kernel.Kernel.Boot, right before the first dispatch.
func (s *Scheduler) MarkBootComplete() { s.bootComplete.Store(true) }

// IsBootComplete reports whether Boot has dispatched the first task.
func (s *Scheduler) IsBootComplete() bool { return s.bootComplete.Load() }

func slot(priority int) int { return priority + 1 }

// AddReady enqueues t at the tail of priority's FIFO and marks that
// level non-empty in the bitmap.
func (s *Scheduler) AddReady(t Task, priority int) {
	i := slot(priority)
	s.queues[i].Enqueue(t)
	s.bitmap |= 1 << uint(i)
}

// RemoveReady detaches t from priority's FIFO (e.g. because its
// effective priority is about to change, via Requeue). No-op if t is not
// there.
func (s *Scheduler) RemoveReady(t Task, priority int) {
	i := slot(priority)
	s.queues[i].Remove(t)
	if s.queues[i].Empty() {
		s.bitmap &^= 1 << uint(i)
	}
}

// Requeue moves t from oldPriority's ready queue to newPriority's, for
// use when a priority change (boost/unboost, mutex protocol effect)
// happens to a task that is currently Ready rather than Running.
func (s *Scheduler) Requeue(t Task, oldPriority, newPriority int) {
	s.RemoveReady(t, oldPriority)
	s.AddReady(t, newPriority)
}

// Yield rotates t to the tail of its own priority's queue -- the effect
// of an explicit yield_cpu call (spec §4.8 round-robin).
func (s *Scheduler) Yield(t Task, priority int) {
	s.RemoveReady(t, priority)
	s.AddReady(t, priority)
}

// HighestReady reports the priority level of the most urgent non-empty
// ready queue, and whether any queue is non-empty at all.
func (s *Scheduler) HighestReady() (priority int, ok bool) {
	if s.bitmap == 0 {
		return 0, false
	}
	i := bits.TrailingZeros64(s.bitmap)
	return i - 1, true
}

// PopHighest removes and returns the head of the most urgent non-empty
// ready queue. This is the core of dispatch: the kernel compares its
// result against the currently running task and requests a context
// switch from the port if they differ.
func (s *Scheduler) PopHighest() (Task, int, bool) {
	priority, ok := s.HighestReady()
	if !ok {
		return nil, 0, false
	}
	i := slot(priority)
	t, _ := s.queues[i].WakeOne().(Task)
	if s.queues[i].Empty() {
		s.bitmap &^= 1 << uint(i)
	}
	return t, priority, true
}

// Peek reports the head of priority's queue without removing it.
func (s *Scheduler) Peek(priority int) (Task, bool) {
	t, ok := s.queues[slot(priority)].Peek().(Task)
	return t, ok
}
