//go:build linux
// +build linux

package node

import (
	"errors"
	"unsafe"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type pipeSignal uint64

const (
	SignalStop pipeSignal = 1
)

// Poll is the epoll backed Multiplexer. An eventfd registered next to the
// connections lets other goroutines interrupt Wait.
type Poll struct {
	*Registry
	epollFd int
	efd     int
	raw     []unix.EpollEvent
}

var _ Multiplexer = (*Poll)(nil)

func NewPoll(maxEvents int) (*Poll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("failed to create epoll", zap.Error(err))
		return nil, err
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("failed to create eventfd", zap.Error(err))
		unix.Close(epfd)
		return nil, err
	}

	// the eventfd is not tracked by the registry, connections never collide with it
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{Fd: int32(efd), Events: unix.EPOLLIN})
	if err != nil {
		log.Logger.Error("failed to add eventfd to epoll", zap.Error(err))
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}

	return &Poll{
		Registry: NewRegistry(epfd),
		epollFd:  epfd,
		efd:      efd,
		raw:      make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Wait blocks in epoll_wait. EINTR is reported as an empty batch.
func (p *Poll) Wait(events []Event, msec int) (int, error) {
	max := len(events)
	if max > len(p.raw) {
		max = len(p.raw)
	}
	n, err := unix.EpollWait(p.epollFd, p.raw[:max], msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	var stopped bool
	j := 0
	for i := 0; i < n; i++ {
		ev := &p.raw[i]
		fd := int(ev.Fd)
		if fd == p.efd {
			stopped = p.handleSignal() || stopped
			continue
		}
		events[j] = Event{Fd: fd, Mask: fromEpoll(ev.Events)}
		j++
	}
	if stopped {
		return j, ErrSignalStopped
	}
	return j, nil
}

// handleSignal drains the eventfd and reports whether a stop was requested.
func (p *Poll) handleSignal() bool {
	var buf uint64
	_, err := unix.Read(p.efd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
	if err != nil {
		if !IsTemporaryError(err) {
			log.Logger.Error("failed to read from event fd", zap.Error(err))
		}
		return false
	}
	// eventfd sums pending writes, any non-zero value means stop
	return pipeSignal(buf) >= SignalStop
}

// Wake asks a blocked Wait to return ErrSignalStopped.
func (p *Poll) Wake() error {
	return p.sendSignal(SignalStop)
}

func (p *Poll) sendSignal(sig pipeSignal) error {
	_, err := unix.Write(p.efd, (*(*[8]byte)(unsafe.Pointer(&sig)))[:])
	if err != nil {
		log.Logger.Error("failed to write to event fd", zap.Error(err))
	}
	return err
}

// Close releases the eventfd and the epoll fd. Registered connection fds are
// owned by the connection table and are not closed here.
func (p *Poll) Close() error {
	var err error
	err = multierr.Append(err, unix.Close(p.efd))
	err = multierr.Append(err, unix.Close(p.epollFd))
	return err
}
