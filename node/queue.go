package node

import (
	"sync"

	"github.com/eapache/queue"
)

// Task hands a slot to a worker. It carries no copy of the connection data.
type Task struct {
	Slot *Slot
}

// WorkQueue is a bounded FIFO of tasks. Workers block in Pop until a task is
// queued or the queue is stopped.
//
// The bound applies to pending tasks, i.e. queued ones plus those a worker has
// popped but not yet marked Done, so the queued length can never exceed it either.
type WorkQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *queue.Queue
	max      int
	pending  int
	stopping bool
}

func NewWorkQueue(max int) *WorkQueue {
	q := &WorkQueue{
		tasks: queue.New(),
		max:   max,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends t unless the queue is full or stopped. It never blocks on capacity.
func (q *WorkQueue) Push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopping || q.pending >= q.max {
		return false
	}
	q.tasks.Add(t)
	q.pending++
	q.cond.Signal()
	return true
}

// Pop removes the oldest task, blocking while the queue is empty. It returns
// false once Stop has been called; tasks still queued at that point are dropped.
func (q *WorkQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.tasks.Length() == 0 && !q.stopping {
		q.cond.Wait()
	}
	if q.stopping {
		return Task{}, false
	}
	return q.tasks.Remove().(Task), true
}

// Done marks a popped task as finished, freeing its place in the bound.
func (q *WorkQueue) Done() {
	q.mu.Lock()
	q.pending--
	q.mu.Unlock()
}

// Len returns the number of queued tasks.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Length()
}

// Pending returns queued plus in-service tasks.
func (q *WorkQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Stop wakes every blocked worker.
func (q *WorkQueue) Stop() {
	q.mu.Lock()
	q.stopping = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
