package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueFIFO(t *testing.T) {
	q := NewWorkQueue(3)
	a, b, c := &Slot{fd: 1}, &Slot{fd: 2}, &Slot{fd: 3}

	assert.True(t, q.Push(Task{Slot: a}))
	assert.True(t, q.Push(Task{Slot: b}))
	assert.True(t, q.Push(Task{Slot: c}))
	assert.Equal(t, 3, q.Len())

	for _, want := range []*Slot{a, b, c} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Same(t, want, got.Slot)
	}
	assert.Equal(t, 0, q.Len())
}

func TestWorkQueueBound(t *testing.T) {
	q := NewWorkQueue(2)
	assert.True(t, q.Push(Task{}))
	assert.True(t, q.Push(Task{}))
	assert.False(t, q.Push(Task{}), "push beyond the bound must fail")
	assert.Equal(t, 2, q.Len())

	// a popped task still counts until Done
	_, ok := q.Pop()
	require.True(t, ok)
	assert.False(t, q.Push(Task{}))
	q.Done()
	assert.True(t, q.Push(Task{}))
	assert.Equal(t, 2, q.Pending())
}

func TestWorkQueuePushNeverBlocks(t *testing.T) {
	q := NewWorkQueue(1)
	require.True(t, q.Push(Task{}))

	done := make(chan bool)
	go func() {
		done <- q.Push(Task{})
	}()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push blocked on a full queue")
	}
}

func TestWorkQueueStopWakesWaiters(t *testing.T) {
	q := NewWorkQueue(4)

	const waiters = 4
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, ok := q.Pop()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	for i := 0; i < waiters; i++ {
		select {
		case ok := <-results:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("pop did not observe stop")
		}
	}
	assert.False(t, q.Push(Task{}), "stopped queue rejects tasks")
}
