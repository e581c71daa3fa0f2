//go:build linux
// +build linux

package node

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvents = unix.EPOLLOUT
	hupEvents   = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
)

type registration struct {
	interest EventMask
	oneshot  bool
}

// Registry is a wrapper around epoll. It keeps track of the fds that are registered to epoll.
// Workers rearm through it concurrently with the reactor, so the set is guarded.
type Registry struct {
	epollFd int

	mu       sync.Mutex
	epollSet map[int]registration
}

func NewRegistry(epollFd int) *Registry {
	return &Registry{
		epollFd:  epollFd,
		epollSet: make(map[int]registration),
	}
}

func toEpoll(interest EventMask, oneshot bool) uint32 {
	var ev uint32 = unix.EPOLLRDHUP
	if interest&EventReadable != 0 {
		ev |= readEvents
	}
	if interest&EventWritable != 0 {
		ev |= writeEvents
	}
	if oneshot {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

func fromEpoll(ev uint32) EventMask {
	var m EventMask
	if ev&readEvents != 0 {
		m |= EventReadable
	}
	if ev&writeEvents != 0 {
		m |= EventWritable
	}
	if ev&hupEvents != 0 {
		m |= EventHangup
	}
	return m
}

// Register adds fd to epoll.
func (r *Registry) Register(fd int, interest EventMask, oneshot bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.epollSet[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	if err := r.ctl(unix.EPOLL_CTL_ADD, fd, toEpoll(interest, oneshot)); err != nil {
		return err
	}
	r.epollSet[fd] = registration{interest: interest, oneshot: oneshot}
	return nil
}

// Rearm restores interest for a registered fd, re-enabling a disabled one-shot registration.
func (r *Registry) Rearm(fd int, interest EventMask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.epollSet[fd]
	if !ok {
		return fmt.Errorf("rearm fd %d: %w", fd, ErrSlotNotActive)
	}
	if err := r.ctl(unix.EPOLL_CTL_MOD, fd, toEpoll(interest, reg.oneshot)); err != nil {
		return err
	}
	reg.interest = interest
	r.epollSet[fd] = reg
	return nil
}

// Unregister removes fd from epoll. Unknown fds are ignored.
func (r *Registry) Unregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.epollSet[fd]; !ok {
		return nil
	}
	delete(r.epollSet, fd)
	return r.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}

// Registered reports the interest currently recorded for fd.
func (r *Registry) Registered(fd int) (EventMask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.epollSet[fd]
	return reg.interest, ok
}

func (r *Registry) ctl(op, fd int, events uint32) error {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{Fd: int32(fd), Events: events}
	}
	var name string
	switch op {
	case unix.EPOLL_CTL_ADD:
		name = "epoll_ctl add"
	case unix.EPOLL_CTL_MOD:
		name = "epoll_ctl mod"
	default:
		name = "epoll_ctl del"
	}
	return os.NewSyscallError(name, unix.EpollCtl(r.epollFd, op, fd, ev))
}
