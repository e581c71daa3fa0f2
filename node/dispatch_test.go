//go:build linux
// +build linux

package node

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// gatedProtocol echoes once release is closed.
type gatedProtocol struct {
	release <-chan struct{}
	calls   *atomic.Int32
}

func (p gatedProtocol) Process(in []byte, out *bytes.Buffer, full bool) (int, bool, error) {
	p.calls.Inc()
	<-p.release
	return EchoProtocol{}.Process(in, out, full)
}

func newTestReactor(t *testing.T, cfg ReactorConfig, factory ProtocolFactory) (*Reactor, *fakePoller) {
	t.Helper()
	poller := newFakePoller()
	ctx := NewContext(poller, nil)
	table := NewConnectionTable(ctx, 8, factory)
	table.SetReadBufferSize(8)
	r, err := NewReactor(ctx, -1, table, cfg)
	require.NoError(t, err)
	t.Cleanup(r.shutdown)
	return r, poller
}

func activate(t *testing.T, r *Reactor) (*Slot, int) {
	t.Helper()
	fd, peer := socketPair(t)
	slot, err := r.table.Activate(fd, nil)
	require.NoError(t, err)
	return slot, peer
}

func TestReactorZeroByteReadRearms(t *testing.T) {
	r, poller := newTestReactor(t, ReactorConfig{Workers: 1, MaxRequests: 4}, nil)
	slot, _ := activate(t, r)

	r.handleRead(slot)
	assert.True(t, poller.rearmedWith(slot.Fd(), EventReadable))
	assert.Equal(t, SlotIdle, slot.State())
	assert.Zero(t, testutil.ToFloat64(r.ctx.Metrics.TasksSubmitted))
}

func TestReactorReadHandsSlotToWorker(t *testing.T) {
	r, poller := newTestReactor(t, ReactorConfig{Workers: 2, MaxRequests: 4}, nil)
	slot, peer := activate(t, r)

	_, err := unix.Write(peer, []byte("ping\n"))
	require.NoError(t, err)
	r.handleRead(slot)

	require.Eventually(t, func() bool { return poller.rearmedWith(slot.Fd(), EventWritable) }, time.Second, time.Millisecond)
	assert.Equal(t, SlotIdle, slot.State())

	r.handleWrite(slot)
	assert.True(t, poller.rearmedWith(slot.Fd(), EventReadable))
	buf := make([]byte, 16)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping\n", string(buf[:n]))
}

func TestReactorIncompleteRequestRearmsReadable(t *testing.T) {
	r, poller := newTestReactor(t, ReactorConfig{Workers: 1, MaxRequests: 4}, nil)
	slot, peer := activate(t, r)

	_, err := unix.Write(peer, []byte("pi"))
	require.NoError(t, err)
	r.handleRead(slot)

	require.Eventually(t, func() bool { return poller.rearmedWith(slot.Fd(), EventReadable) }, time.Second, time.Millisecond)
	assert.Equal(t, 2, slot.Buffered())
}

func TestReactorQueueOverflowKeepsInput(t *testing.T) {
	release := make(chan struct{})
	calls := atomic.NewInt32(0)
	factory := func(*net.TCPAddr) Protocol {
		return gatedProtocol{release: release, calls: calls}
	}
	r, poller := newTestReactor(t, ReactorConfig{Workers: 1, MaxRequests: 1}, factory)

	busy, busyPeer := activate(t, r)
	_, err := unix.Write(busyPeer, []byte("x\n"))
	require.NoError(t, err)
	r.handleRead(busy)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	slot, peer := activate(t, r)
	_, err = unix.Write(peer, []byte("abcdefgh"))
	require.NoError(t, err)

	r.handleRead(slot)
	assert.Equal(t, SlotIdle, slot.State())
	assert.Equal(t, 8, slot.Buffered())
	assert.True(t, poller.rearmedWith(slot.Fd(), EventReadable))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ctx.Metrics.TasksDropped))

	// nothing new arrives, but the full buffer is offered again
	r.handleRead(slot)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ctx.Metrics.TasksDropped))

	close(release)
	require.Eventually(t, func() bool { return poller.rearmedWith(busy.Fd(), EventWritable) }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return r.pool.queue.Pending() == 0 }, time.Second, time.Millisecond)

	r.handleRead(slot)
	require.Eventually(t, func() bool { return poller.rearmedWith(slot.Fd(), EventWritable) }, time.Second, time.Millisecond)
	assert.Zero(t, slot.Buffered())
}

func TestReactorRejectsReadOfForeignSlot(t *testing.T) {
	r, poller := newTestReactor(t, ReactorConfig{Workers: 1, MaxRequests: 4}, nil)
	slot, _ := activate(t, r)
	require.NoError(t, slot.transition(SlotIdle, SlotQueued))

	r.handleRead(slot)
	r.handleWrite(slot)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ctx.Metrics.OwnershipViolations))
	assert.Zero(t, poller.rearmCount())
	assert.Equal(t, SlotQueued, slot.State())
	require.NoError(t, slot.transition(SlotQueued, SlotIdle))
}

func TestReactorClosesAfterFinalResponse(t *testing.T) {
	r, _ := newTestReactor(t, ReactorConfig{Workers: 1, MaxRequests: 4}, nil)
	slot, peer := activate(t, r)
	fd := slot.Fd()

	_, err := unix.Write(peer, []byte("quit\n"))
	require.NoError(t, err)
	require.Equal(t, ReadDrained, slot.Read().Status)
	require.Equal(t, ProcessResponded, slot.Process())

	r.handleWrite(slot)
	_, ok := r.table.Lookup(fd)
	assert.False(t, ok)
	assert.EqualValues(t, 0, r.ctx.UserCount())
}
