package waitqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWaiter struct {
	prio int
	name string
}

func (w *fakeWaiter) EffectivePriority() int { return w.prio }

func TestFIFOOrdersByArrival(t *testing.T) {
	q := New(FIFO)
	a := &fakeWaiter{prio: 5, name: "a"}
	b := &fakeWaiter{prio: 1, name: "b"} // higher priority, but FIFO ignores it
	c := &fakeWaiter{prio: 9, name: "c"}
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	require.Equal(t, Waiter(a), q.WakeOne())
	require.Equal(t, Waiter(b), q.WakeOne())
	require.Equal(t, Waiter(c), q.WakeOne())
	require.Nil(t, q.WakeOne())
}

func TestPriorityOrdersByEffectivePriorityThenArrival(t *testing.T) {
	q := New(Priority)
	a := &fakeWaiter{prio: 5, name: "a"}
	b := &fakeWaiter{prio: 1, name: "b"}
	c := &fakeWaiter{prio: 5, name: "c"} // same prio as a, arrived after
	d := &fakeWaiter{prio: 9, name: "d"}
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)
	q.Enqueue(d)

	require.Equal(t, Waiter(b), q.WakeOne()) // prio 1 wins
	require.Equal(t, Waiter(a), q.WakeOne()) // prio 5, arrived before c
	require.Equal(t, Waiter(c), q.WakeOne()) // prio 5, arrived after a
	require.Equal(t, Waiter(d), q.WakeOne()) // prio 9 last
}

func TestRemoveArbitraryWaiter(t *testing.T) {
	q := New(Priority)
	a := &fakeWaiter{prio: 1, name: "a"}
	b := &fakeWaiter{prio: 2, name: "b"}
	c := &fakeWaiter{prio: 3, name: "c"}
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	q.Remove(b)
	assert.False(t, q.Contains(b))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, Waiter(a), q.WakeOne())
	assert.Equal(t, Waiter(c), q.WakeOne())
}

func TestRemoveOfAbsentWaiterIsNoop(t *testing.T) {
	q := New(FIFO)
	a := &fakeWaiter{prio: 1, name: "a"}
	q.Enqueue(a)

	other := &fakeWaiter{prio: 1, name: "other"}
	q.Remove(other)
	assert.Equal(t, 1, q.Len())
}

func TestReorderOnPriorityQueueMovesWaiterAfterBoost(t *testing.T) {
	q := New(Priority)
	a := &fakeWaiter{prio: 5, name: "a"}
	b := &fakeWaiter{prio: 3, name: "b"}
	q.Enqueue(a)
	q.Enqueue(b)
	require.Equal(t, Waiter(b), q.Peek())

	// a's effective priority improves (numerically decreases) past b's --
	// e.g. priority inheritance from a higher-priority waiter arriving
	// later on another queue.
	a.prio = 1
	q.Reorder(a)
	assert.Equal(t, Waiter(a), q.Peek())
}

func TestReorderOnFIFOQueueIsNoop(t *testing.T) {
	q := New(FIFO)
	a := &fakeWaiter{prio: 5, name: "a"}
	b := &fakeWaiter{prio: 1, name: "b"}
	q.Enqueue(a)
	q.Enqueue(b)

	b.prio = -100
	q.Reorder(b)
	assert.Equal(t, Waiter(a), q.Peek()) // arrival order preserved regardless
}

func TestWakeAllDrainsInOrder(t *testing.T) {
	q := New(FIFO)
	a := &fakeWaiter{prio: 1, name: "a"}
	b := &fakeWaiter{prio: 1, name: "b"}
	q.Enqueue(a)
	q.Enqueue(b)

	all := q.WakeAll()
	require.Len(t, all, 2)
	assert.Equal(t, Waiter(a), all[0])
	assert.Equal(t, Waiter(b), all[1])
	assert.True(t, q.Empty())
}
