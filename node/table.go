package node

import (
	"fmt"
	"net"

	"go.uber.org/multierr"
)

// ConnectionTable is a fixed arena of slots plus an index from descriptor to
// slot. It never grows. Only the reactor goroutine calls its methods; workers
// hold *Slot references handed to them through the work queue.
type ConnectionTable struct {
	ctx     *Context
	factory ProtocolFactory
	bufSize int

	slots []Slot
	index map[int]int32
	free  []int32
}

func NewConnectionTable(ctx *Context, maxFD int, factory ProtocolFactory) *ConnectionTable {
	if factory == nil {
		factory = NewEchoProtocol
	}
	t := &ConnectionTable{
		ctx:     ctx,
		factory: factory,
		bufSize: DefaultReadBufferSize,
		slots:   make([]Slot, maxFD),
		index:   make(map[int]int32, maxFD),
		free:    make([]int32, maxFD),
	}
	// pop from the tail, so the lowest slots are used first
	for i := range t.free {
		t.free[i] = int32(maxFD - 1 - i)
	}
	return t
}

// SetReadBufferSize changes the input buffer size of slots activated from now on.
func (t *ConnectionTable) SetReadBufferSize(n int) {
	t.bufSize = n
}

func (t *ConnectionTable) Cap() int {
	return len(t.slots)
}

// Live returns the number of active slots.
func (t *ConnectionTable) Live() int {
	return len(t.index)
}

// Activate binds fd to a free slot. When every slot is taken it returns
// ErrCapacityExceeded and the caller must close fd itself.
func (t *ConnectionTable) Activate(fd int, peer *net.TCPAddr) (*Slot, error) {
	if _, ok := t.index[fd]; ok {
		return nil, fmt.Errorf("fd %d already active", fd)
	}
	if len(t.free) == 0 {
		return nil, ErrCapacityExceeded
	}

	i := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.index[fd] = i

	slot := &t.slots[i]
	slot.Init(t.ctx, fd, peer, t.factory(peer), t.bufSize)
	return slot, nil
}

func (t *ConnectionTable) Lookup(fd int) (*Slot, bool) {
	i, ok := t.index[fd]
	if !ok {
		return nil, false
	}
	return &t.slots[i], true
}

// Deactivate unregisters and closes fd and returns its slot to the free list.
func (t *ConnectionTable) Deactivate(fd int) error {
	i, ok := t.index[fd]
	if !ok {
		return fmt.Errorf("deactivate fd %d: %w", fd, ErrSlotNotActive)
	}
	delete(t.index, fd)
	t.free = append(t.free, i)
	t.ctx.Metrics.ConnectionsClosed.Inc()
	return t.slots[i].closeConn()
}

// CloseAll deactivates every live slot.
func (t *ConnectionTable) CloseAll() error {
	var errs error
	for fd := range t.index {
		errs = multierr.Append(errs, t.Deactivate(fd))
	}
	return errs
}
