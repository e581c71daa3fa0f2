//go:build linux
// +build linux

package node

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakePoller records what the core asks of the multiplexer.
type fakePoller struct {
	mu           sync.Mutex
	registered   map[int]EventMask
	rearmed      []Event
	unregistered []int
}

func newFakePoller() *fakePoller {
	return &fakePoller{registered: make(map[int]EventMask)}
}

func (f *fakePoller) Register(fd int, interest EventMask, oneshot bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[fd] = interest
	return nil
}

func (f *fakePoller) Rearm(fd int, interest EventMask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rearmed = append(f.rearmed, Event{Fd: fd, Mask: interest})
	return nil
}

func (f *fakePoller) Unregister(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, fd)
	f.unregistered = append(f.unregistered, fd)
	return nil
}

func (f *fakePoller) rearmedWith(fd int, interest EventMask) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.rearmed {
		if ev.Fd == fd && ev.Mask == interest {
			return true
		}
	}
	return false
}

func (f *fakePoller) rearmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rearmed)
}

func (f *fakePoller) Wait([]Event, int) (int, error) { return 0, ErrSignalStopped }
func (f *fakePoller) Wake() error                   { return nil }
func (f *fakePoller) Close() error                  { return nil }

// socketPair returns a non-blocking server side fd and the peer fd.
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}
