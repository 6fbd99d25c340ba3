package mutex

import (
	"testing"

	"github.com/r3-os/r3-sub003/kernel/errors"
	"github.com/r3-os/r3-sub003/kernel/waitqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTask is a minimal Task for exercising Mutex in isolation, without
// pulling in kernel/task/kernel/sched. blockedQ/blockedOwner model a task
// parked on some other wait queue, for chain-propagation tests.
type fakeTask struct {
	name         string
	base         int
	eff          int
	held         []*Mutex
	blockedQ     *waitqueue.Queue
	blockedOwner Task
}

func newFakeTask(name string, prio int) *fakeTask {
	return &fakeTask{name: name, base: prio, eff: prio}
}

func (t *fakeTask) EffectivePriority() int           { return t.eff }
func (t *fakeTask) BasePriority() int                { return t.base }
func (t *fakeTask) SetEffectivePriority(p int)       { t.eff = p }
func (t *fakeTask) BlockedOnQueue() *waitqueue.Queue { return t.blockedQ }
func (t *fakeTask) BlockedOnOwner() (Task, bool) {
	if t.blockedOwner == nil {
		return nil, false
	}
	return t.blockedOwner, true
}
func (t *fakeTask) PushHeld(m *Mutex) {
	t.held = append([]*Mutex{m}, t.held...)
}
func (t *fakeTask) PopHeld(m *Mutex) bool {
	if len(t.held) == 0 || t.held[0] != m {
		return false
	}
	t.held = t.held[1:]
	return true
}
func (t *fakeTask) HeldMutexes() []*Mutex { return t.held }

func TestLockUncontendedGrantsOwnership(t *testing.T) {
	m := New(None, 0)
	a := newFakeTask("a", 5)
	acquired, wait, err := m.Lock(a)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Nil(t, wait)
	assert.Equal(t, Task(a), m.Owner())
}

func TestLockSelfDeadlock(t *testing.T) {
	m := New(None, 0)
	a := newFakeTask("a", 5)
	m.Lock(a)
	_, _, err := m.Lock(a)
	assert.ErrorIs(t, err, errors.WouldDeadlock)
}

func TestCeilingRejectsBasePriorityBetterThanCeiling(t *testing.T) {
	m := New(Ceiling, 3)
	high := newFakeTask("high", 1) // numerically better than ceiling 3
	_, _, err := m.Lock(high)
	assert.ErrorIs(t, err, errors.BadParam)
}

// S1: priority-ceiling inversion prevention -- acquiring a ceiling mutex
// immediately raises the owner's effective priority to the ceiling, with
// no waiter needed to trigger it.
func TestCeilingRaisesOwnerPriorityImmediately(t *testing.T) {
	m := New(Ceiling, 2)
	owner := newFakeTask("owner", 8)
	acquired, _, err := m.Lock(owner)
	require.NoError(t, err)
	require.True(t, acquired)
	assert.Equal(t, 2, owner.EffectivePriority())
}

func TestPriorityInheritanceRaisesOwnerToWaiterLevel(t *testing.T) {
	m := New(PriorityInheritance, 0)
	owner := newFakeTask("owner", 10)
	m.Lock(owner)

	waiter := newFakeTask("waiter", 1)
	acquired, wait, err := m.Lock(waiter)
	require.NoError(t, err)
	require.False(t, acquired)
	require.NotNil(t, wait)

	assert.Equal(t, 1, owner.EffectivePriority())
}

func TestPriorityInheritancePropagatesAlongChain(t *testing.T) {
	mOuter := New(PriorityInheritance, 0)
	mInner := New(PriorityInheritance, 0)

	taskC := newFakeTask("C", 10)
	mOuter.Lock(taskC) // C owns mOuter

	taskB := newFakeTask("B", 8)
	mInner.Lock(taskB) // B owns mInner
	// B is itself blocked trying to lock mOuter, held by C.
	taskB.blockedQ = mOuter.waitq
	taskB.blockedOwner = taskC
	_, _, _ = mOuter.Lock(taskB)

	taskA := newFakeTask("A", 1)
	_, _, _ = mInner.Lock(taskA) // A blocks on mInner, owned by B

	// A's high priority should have propagated: B inherits it directly,
	// and C inherits it transitively through B's block on mOuter.
	assert.Equal(t, 1, taskB.EffectivePriority())
	assert.Equal(t, 1, taskC.EffectivePriority())
}

func TestUnlockByNonOwnerFails(t *testing.T) {
	m := New(None, 0)
	a := newFakeTask("a", 5)
	b := newFakeTask("b", 5)
	m.Lock(a)
	_, err := m.Unlock(b)
	assert.ErrorIs(t, err, errors.NotOwner)
}

func TestUnlockEnforcesLIFODiscipline(t *testing.T) {
	m1 := New(None, 0)
	m2 := New(None, 0)
	a := newFakeTask("a", 5)
	m1.Lock(a)
	m2.Lock(a) // a now holds m2 (most recent), then m1

	_, err := m1.Unlock(a) // not the top of the LIFO stack
	assert.ErrorIs(t, err, errors.BadObjectState)

	_, err = m2.Unlock(a) // correct LIFO order
	assert.NoError(t, err)
}

func TestUnlockHandsOffToNextWaiter(t *testing.T) {
	m := New(PriorityInheritance, 0)
	a := newFakeTask("a", 5)
	m.Lock(a)

	b := newFakeTask("b", 1)
	_, wait, _ := m.Lock(b)

	_, err := m.Unlock(a)
	require.NoError(t, err)

	select {
	case <-wait.Done():
	default:
		t.Fatal("b should have been granted ownership")
	}
	assert.NoError(t, wait.Err())
	assert.Equal(t, Task(b), m.Owner())
}

// S5: mutex abandonment -- an owner exiting while holding the mutex marks
// it inconsistent; the next owner (granted or newly locking) observes
// Abandoned until MarkConsistent is called.
func TestAbandonmentNotifiesNextOwner(t *testing.T) {
	m := New(None, 0)
	a := newFakeTask("a", 5)
	m.Lock(a)

	m.Abandon()
	assert.True(t, m.IsInconsistent())
	assert.Nil(t, m.Owner())

	b := newFakeTask("b", 5)
	acquired, _, err := m.Lock(b)
	require.True(t, acquired)
	assert.ErrorIs(t, err, errors.Abandoned)
	assert.Equal(t, Task(b), m.Owner())

	err = m.MarkConsistent(b)
	require.NoError(t, err)
	assert.False(t, m.IsInconsistent())

	// A third locker after repair sees no abandonment.
	m.Unlock(b)
	c := newFakeTask("c", 5)
	_, _, err = m.Lock(c)
	assert.NoError(t, err)
}

func TestMarkConsistentFailsWhenNotInconsistent(t *testing.T) {
	m := New(None, 0)
	a := newFakeTask("a", 5)
	m.Lock(a)
	err := m.MarkConsistent(a)
	assert.ErrorIs(t, err, errors.BadInheritance)
}

func TestAbandonmentWakesQueuedWaiterWithAbandonedError(t *testing.T) {
	m := New(None, 0)
	a := newFakeTask("a", 5)
	m.Lock(a)

	b := newFakeTask("b", 5)
	_, wait, _ := m.Lock(b)

	m.Abandon()

	select {
	case <-wait.Done():
	default:
		t.Fatal("b should have been granted ownership by Abandon")
	}
	assert.ErrorIs(t, wait.Err(), errors.Abandoned)
	assert.Equal(t, Task(b), m.Owner())
}
