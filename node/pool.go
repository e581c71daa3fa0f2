package node

import (
	"fmt"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers     = 8
	DefaultMaxRequests = 10000
)

// Pool is a fixed set of workers draining a bounded WorkQueue.
type Pool struct {
	queue   *WorkQueue
	fn      func(Task)
	metrics *Metrics
	workers int

	group  errgroup.Group
	closed atomic.Bool
}

// NewPool starts workers goroutines that call fn for every submitted task.
func NewPool(workers, maxRequests int, fn func(Task), metrics *Metrics) (*Pool, error) {
	if workers <= 0 {
		return nil, &PoolError{Reason: InvalidWorkerCount, Value: workers}
	}
	if maxRequests <= 0 {
		return nil, &PoolError{Reason: InvalidQueueCapacity, Value: maxRequests}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	p := &Pool{
		queue:   NewWorkQueue(maxRequests),
		fn:      fn,
		metrics: metrics,
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		id := i
		p.group.Go(func() error {
			p.run(id)
			return nil
		})
	}
	log.Logger.Debug("worker pool started", zap.Int("workers", workers), zap.Int("max_requests", maxRequests))
	return p, nil
}

// Submit queues t without blocking. It returns false when the queue is full or the pool is closed.
func (p *Pool) Submit(t Task) bool {
	if p.closed.Load() || !p.queue.Push(t) {
		p.metrics.TasksDropped.Inc()
		return false
	}
	p.metrics.TasksSubmitted.Inc()
	p.metrics.QueueLength.Set(float64(p.queue.Len()))
	return true
}

func (p *Pool) Workers() int {
	return p.workers
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return p.queue.Len()
}

func (p *Pool) run(id int) {
	for {
		t, ok := p.queue.Pop()
		if !ok {
			log.Logger.Debug("worker stopped", zap.Int("worker", id))
			return
		}
		p.metrics.QueueLength.Set(float64(p.queue.Len()))
		p.exec(id, t)
		p.queue.Done()
		p.metrics.TasksProcessed.Inc()
	}
}

func (p *Pool) exec(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error("task panicked", zap.Int("worker", id), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	p.fn(t)
}

// Close stops accepting tasks, wakes every worker and waits for them to
// return. A task already being processed finishes first; queued tasks are dropped.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.queue.Stop()
	_ = p.group.Wait()
}
