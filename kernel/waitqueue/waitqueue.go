// Package waitqueue implements the generic blocked-waiter list shared by
// every kernel synchronization object (event groups, semaphores, mutexes,
// per spec §4.4). A queue is either FIFO (arrival order) or priority
// ordered (lowest EffectivePriority value first, FIFO among ties); the
// object that owns the queue picks the discipline once, at build time.
//
// Entries live in a plain slice rather than an intrusive linked list: the
// expected population of any one queue is the handful of tasks actually
// contending for that object, not the whole task set, so the O(n) insert
// and O(n) remove this costs in the worst case are cheaper in practice
// than the bookkeeping an intrusive list would need.
package waitqueue

// Waiter is anything a wait queue can hold. EffectivePriority reports the
// task's current priority, already accounting for any inheritance or
// ceiling boost in effect at the moment of insertion; Priority wait
// queues re-read it every time membership might have changed, rather
// than caching it.
type Waiter interface {
	EffectivePriority() int
}

// Order selects the queue's wake-up discipline.
type Order int

const (
	// FIFO wakes waiters in the order they enqueued, regardless of
	// priority. Used for event groups (spec §4.5), semaphores, and the
	// scheduler's per-level ready queues.
	FIFO Order = iota
	// Priority wakes the highest-priority (lowest EffectivePriority)
	// waiter first, breaking ties by arrival order. Used for mutexes
	// (spec §4.7).
	Priority
)

// Queue holds the waiters blocked on a single synchronization object.
type Queue struct {
	order   Order
	waiters []Waiter
}

// New returns an empty queue with the given wake-up discipline.
func New(order Order) *Queue {
	return &Queue{order: order}
}

// Len reports the number of currently enqueued waiters.
func (q *Queue) Len() int { return len(q.waiters) }

// Empty reports whether the queue has no waiters.
func (q *Queue) Empty() bool { return len(q.waiters) == 0 }

// Enqueue inserts w. For a FIFO queue this is always an append; for a
// Priority queue w is inserted immediately before the first waiter with a
// strictly greater EffectivePriority value (strictly lower priority),
// which keeps FIFO order among waiters of equal priority.
func (q *Queue) Enqueue(w Waiter) {
	if q.order == FIFO {
		q.waiters = append(q.waiters, w)
		return
	}
	pos := len(q.waiters)
	for i, other := range q.waiters {
		if other.EffectivePriority() > w.EffectivePriority() {
			pos = i
			break
		}
	}
	q.insertAt(pos, w)
}

func (q *Queue) insertAt(pos int, w Waiter) {
	q.waiters = append(q.waiters, nil)
	copy(q.waiters[pos+1:], q.waiters[pos:])
	q.waiters[pos] = w
}

// Remove detaches w from the queue if present, preserving the relative
// order of the remaining waiters. It is a no-op if w is not enqueued.
func (q *Queue) Remove(w Waiter) {
	for i, other := range q.waiters {
		if other == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// Reorder re-sorts w's position after its EffectivePriority has changed
// while it was already enqueued (e.g. priority inheritance unwinding). It
// is a no-op on a FIFO queue, where arrival order never changes; on a
// Priority queue it is equivalent to Remove followed by Enqueue.
func (q *Queue) Reorder(w Waiter) {
	if q.order != Priority {
		return
	}
	q.Remove(w)
	q.Enqueue(w)
}

// WakeOne removes and returns the waiter at the head of the queue (the
// next one entitled to wake), or nil if the queue is empty.
func (q *Queue) WakeOne() Waiter {
	if len(q.waiters) == 0 {
		return nil
	}
	w := q.waiters[0]
	q.waiters = q.waiters[1:]
	return w
}

// Peek returns the head waiter without removing it, or nil if empty.
func (q *Queue) Peek() Waiter {
	if len(q.waiters) == 0 {
		return nil
	}
	return q.waiters[0]
}

// WakeAll drains the entire queue, returning all waiters in wake order.
func (q *Queue) WakeAll() []Waiter {
	all := q.waiters
	q.waiters = nil
	return all
}

// Contains reports whether w is currently enqueued.
func (q *Queue) Contains(w Waiter) bool {
	for _, other := range q.waiters {
		if other == w {
			return true
		}
	}
	return false
}
