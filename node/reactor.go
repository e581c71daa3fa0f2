//go:build linux
// +build linux

package node

import (
	"errors"
	"fmt"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const DefaultMaxEvents = 10000

type ReactorConfig struct {
	Workers     int
	MaxRequests int
	MaxEvents   int
}

// Reactor owns the wait loop. Connections are registered one-shot, so after
// an event for a descriptor is delivered nothing else is delivered for it
// until its current owner rearms it. That is what keeps the reactor and the
// workers from ever touching the same slot at once.
type Reactor struct {
	ctx      *Context
	poll     Multiplexer
	table    *ConnectionTable
	pool     *Pool
	listenFd int
	events   []Event
}

// NewReactor registers the listener and starts the worker pool.
func NewReactor(ctx *Context, listenFd int, table *ConnectionTable, cfg ReactorConfig) (*Reactor, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	r := &Reactor{
		ctx:      ctx,
		poll:     ctx.Poller,
		table:    table,
		listenFd: listenFd,
		events:   make([]Event, cfg.MaxEvents),
	}

	pool, err := NewPool(cfg.Workers, cfg.MaxRequests, r.process, ctx.Metrics)
	if err != nil {
		return nil, err
	}

	if err := r.poll.Register(listenFd, EventReadable, false); err != nil {
		pool.Close()
		return nil, fmt.Errorf("register listener: %w", err)
	}
	r.pool = pool
	return r, nil
}

// Run blocks until Stop is called or the multiplexer fails. On return the
// workers have been joined and every connection has been closed.
func (r *Reactor) Run() error {
	defer r.shutdown()

	for {
		n, err := r.poll.Wait(r.events, -1)
		for i := 0; i < n; i++ {
			r.dispatch(r.events[i])
		}
		if err != nil {
			if errors.Is(err, ErrSignalStopped) {
				log.Logger.Info("received stop signal, exiting event loop")
				return nil
			}
			log.Logger.Error("epoll wait error", zap.Error(err))
			return fmt.Errorf("wait: %w", err)
		}
	}
}

// Stop interrupts Run. It is safe to call from any goroutine.
func (r *Reactor) Stop() error {
	return r.poll.Wake()
}

func (r *Reactor) shutdown() {
	r.pool.Close()
	if err := r.table.CloseAll(); err != nil {
		log.Logger.Debug("failed to close connections", zap.Error(err))
	}
	if err := r.poll.Unregister(r.listenFd); err != nil {
		log.Logger.Debug("failed to delete listener from epoll", zap.Error(err))
	}
	log.Logger.Info("reactor closed")
}

func (r *Reactor) dispatch(ev Event) {
	if ev.Fd == r.listenFd {
		r.accept()
		return
	}

	slot, ok := r.table.Lookup(ev.Fd)
	if !ok {
		log.Logger.Warn("event for unknown fd", zap.Int("fd", ev.Fd), zap.Stringer("events", ev.Mask))
		_ = r.poll.Unregister(ev.Fd)
		return
	}

	switch {
	case ev.Mask&EventHangup != 0:
		log.Logger.Debug("hangup", zap.Int("fd", ev.Fd), zap.Stringer("events", ev.Mask))
		r.closeSlot(slot)
	case ev.Mask&EventReadable != 0:
		r.handleRead(slot)
	case ev.Mask&EventWritable != 0:
		r.handleWrite(slot)
	}
}

// accept drains the listener's pending connections.
func (r *Reactor) accept() {
	for {
		connFd, sa, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return
			}
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			log.Logger.Warn("accept error", zap.Error(err))
			return
		}

		peer := sockaddrToTCPAddr(sa)
		slot, err := r.table.Activate(connFd, peer)
		if err != nil {
			r.ctx.Metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
			log.Logger.Warn("rejecting connection", zap.Int("fd", connFd), zap.Stringer("peer", peer), zap.Error(err))
			unix.Close(connFd)
			continue
		}

		if err := r.poll.Register(connFd, EventReadable, true); err != nil {
			r.ctx.Metrics.ConnectionsRejected.WithLabelValues("register").Inc()
			log.Logger.Error("register read error", zap.Int("fd", connFd), zap.Error(err))
			r.closeSlot(slot)
			continue
		}

		r.ctx.Metrics.ConnectionsAccepted.Inc()
		log.Logger.Debug("new connection", zap.Int("fd", connFd), zap.Stringer("peer", peer))
	}
}

func (r *Reactor) handleRead(slot *Slot) {
	if err := slot.expect(SlotIdle); err != nil {
		return
	}

	res := slot.Read()
	switch res.Status {
	case ReadClosed:
		log.Logger.Debug("peer closed", zap.Int("fd", slot.Fd()))
		r.closeSlot(slot)
		return
	case ReadFailed:
		log.Logger.Debug("read error", zap.Int("fd", slot.Fd()), zap.Error(res.Err))
		r.closeSlot(slot)
		return
	}

	// a readable event without new bytes leaves nothing new to parse, unless
	// the buffer is full of input a dropped task never got to
	if res.N == 0 && !slot.inputFull() {
		r.rearm(slot, EventReadable)
		return
	}

	if err := slot.transition(SlotIdle, SlotQueued); err != nil {
		return
	}
	if !r.pool.Submit(Task{Slot: slot}) {
		// the bytes stay buffered and are submitted again on the next readable event
		log.Logger.Warn("work queue full, dropping task", zap.Int("fd", slot.Fd()))
		if err := slot.transition(SlotQueued, SlotIdle); err != nil {
			return
		}
		r.rearm(slot, EventReadable)
	}
}

func (r *Reactor) handleWrite(slot *Slot) {
	if err := slot.expect(SlotIdle); err != nil {
		return
	}

	res := slot.Write()
	switch res.Status {
	case WriteFlushed:
		if slot.KeepAlive() {
			r.rearm(slot, EventReadable)
			return
		}
		r.closeSlot(slot)
	case WritePartial:
		r.rearm(slot, EventWritable)
	case WriteFailed:
		log.Logger.Debug("write error", zap.Int("fd", slot.Fd()), zap.Error(res.Err))
		r.closeSlot(slot)
	}
}

// process runs on a worker. Rearming at the end hands the slot back to the reactor.
func (r *Reactor) process(t Task) {
	slot := t.Slot
	if err := slot.transition(SlotQueued, SlotProcessing); err != nil {
		return
	}

	status := ProcessFailed
	defer func() {
		if rec := recover(); rec != nil {
			log.Logger.Error("process panicked", zap.Int("fd", slot.Fd()), zap.Any("panic", rec))
			slot.keepAlive = false
		}
		fd := slot.Fd()
		interest := EventWritable
		if status == ProcessNeedMore {
			interest = EventReadable
		}
		if err := slot.transition(SlotProcessing, SlotIdle); err != nil {
			return
		}
		if err := r.poll.Rearm(fd, interest); err != nil {
			log.Logger.Error("rearm error", zap.Int("fd", fd), zap.Stringer("interest", interest), zap.Error(err))
		}
	}()

	status = slot.Process()
}

func (r *Reactor) rearm(slot *Slot, interest EventMask) {
	if err := r.poll.Rearm(slot.Fd(), interest); err != nil {
		log.Logger.Warn("rearm error", zap.Int("fd", slot.Fd()), zap.Error(err))
		r.closeSlot(slot)
	}
}

func (r *Reactor) closeSlot(slot *Slot) {
	fd := slot.Fd()
	if err := r.table.Deactivate(fd); err != nil {
		log.Logger.Debug("failed to close connection", zap.Int("fd", fd), zap.Error(err))
	}
}

// Pool exposes the worker pool, mainly for tests.
func (r *Reactor) Pool() *Pool {
	return r.pool
}
