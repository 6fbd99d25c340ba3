package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	name string
	prio int
}

func (t *fakeTask) EffectivePriority() int { return t.prio }

func TestPopHighestReturnsLowestPriorityValueFirst(t *testing.T) {
	s := New(4)
	low := &fakeTask{"low", 3}
	high := &fakeTask{"high", 0}
	mid := &fakeTask{"mid", 1}
	s.AddReady(low, 3)
	s.AddReady(high, 0)
	s.AddReady(mid, 1)

	got, prio, ok := s.PopHighest()
	require.True(t, ok)
	assert.Equal(t, Task(high), got)
	assert.Equal(t, 0, prio)
}

func TestWithinPriorityFIFOOrder(t *testing.T) {
	s := New(4)
	a := &fakeTask{"a", 2}
	b := &fakeTask{"b", 2}
	s.AddReady(a, 2)
	s.AddReady(b, 2)

	got1, _, _ := s.PopHighest()
	got2, _, _ := s.PopHighest()
	assert.Equal(t, Task(a), got1)
	assert.Equal(t, Task(b), got2)
}

func TestHighestReadyEmptyWhenNothingQueued(t *testing.T) {
	s := New(4)
	_, ok := s.HighestReady()
	assert.False(t, ok)
}

func TestBoostPriorityOutranksEveryNormalLevel(t *testing.T) {
	s := New(4)
	normal := &fakeTask{"normal", 0}
	boosted := &fakeTask{"boosted", BoostPriority}
	s.AddReady(normal, 0)
	s.AddReady(boosted, BoostPriority)

	got, prio, ok := s.PopHighest()
	require.True(t, ok)
	assert.Equal(t, Task(boosted), got)
	assert.Equal(t, BoostPriority, prio)
}

func TestYieldRotatesToTailOfSamePriority(t *testing.T) {
	s := New(4)
	a := &fakeTask{"a", 1}
	b := &fakeTask{"b", 1}
	s.AddReady(a, 1)
	s.AddReady(b, 1)

	s.Yield(a, 1)

	got1, _, _ := s.PopHighest()
	got2, _, _ := s.PopHighest()
	assert.Equal(t, Task(b), got1)
	assert.Equal(t, Task(a), got2)
}

func TestRequeueMovesAcrossPriorityLevels(t *testing.T) {
	s := New(4)
	a := &fakeTask{"a", 3}
	s.AddReady(a, 3)

	a.prio = 0
	s.Requeue(a, 3, 0)

	_, ok := s.Peek(3)
	assert.False(t, ok)
	got, prio, ok := s.PopHighest()
	require.True(t, ok)
	assert.Equal(t, Task(a), got)
	assert.Equal(t, 0, prio)
}

func TestRemoveReadyClearsBitmapWhenQueueEmptied(t *testing.T) {
	s := New(4)
	a := &fakeTask{"a", 2}
	s.AddReady(a, 2)
	s.RemoveReady(a, 2)

	_, ok := s.HighestReady()
	assert.False(t, ok)
}

func TestInterruptDepthTracksNestedEnterLeave(t *testing.T) {
	s := New(4)
	assert.Equal(t, int32(0), s.InterruptDepth())

	s.EnterInterrupt()
	s.EnterInterrupt()
	assert.Equal(t, int32(2), s.InterruptDepth())

	s.LeaveInterrupt()
	assert.Equal(t, int32(1), s.InterruptDepth())
	s.LeaveInterrupt()
	assert.Equal(t, int32(0), s.InterruptDepth())

	// An unbalanced extra Leave must not go negative.
	s.LeaveInterrupt()
	assert.Equal(t, int32(0), s.InterruptDepth())
}

func TestBootCompleteStartsFalseAndLatches(t *testing.T) {
	s := New(4)
	assert.False(t, s.IsBootComplete())
	s.MarkBootComplete()
	assert.True(t, s.IsBootComplete())
}
