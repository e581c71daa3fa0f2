//go:build linux
// +build linux

package node

import (
	"bytes"
	"fmt"
	"net"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Slot is one entry of the connection table. It is reused by successive peers.
// Slots carry no lock: only the goroutine named by state may touch the buffers.
type Slot struct {
	ctx  *Context
	fd   int
	peer *net.TCPAddr

	in        []byte
	out       bytes.Buffer
	proto     Protocol
	keepAlive bool

	active atomic.Bool
	state  atomic.Uint32
}

// Init binds the slot to a freshly accepted peer and counts it as live.
func (c *Slot) Init(ctx *Context, fd int, peer *net.TCPAddr, proto Protocol, bufSize int) {
	c.ctx = ctx
	c.fd = fd
	c.peer = peer
	c.proto = proto
	c.keepAlive = true
	if cap(c.in) != bufSize {
		c.in = make([]byte, 0, bufSize)
	}
	c.in = c.in[:0]
	c.out.Reset()
	c.state.Store(uint32(SlotIdle))
	c.active.Store(true)
	ctx.incrUsers()
}

func (c *Slot) Fd() int {
	return c.fd
}

func (c *Slot) Peer() *net.TCPAddr {
	return c.peer
}

func (c *Slot) Active() bool {
	return c.active.Load()
}

func (c *Slot) State() SlotState {
	return SlotState(c.state.Load())
}

func (c *Slot) KeepAlive() bool {
	return c.keepAlive
}

// Buffered returns the number of input bytes not consumed yet.
func (c *Slot) Buffered() int {
	return len(c.in)
}

func (c *Slot) inputFull() bool {
	return len(c.in) == cap(c.in)
}

// transition moves the slot from one owner to the next.
func (c *Slot) transition(from, to SlotState) error {
	if c.state.CompareAndSwap(uint32(from), uint32(to)) {
		return nil
	}
	return c.violation(from, to)
}

// expect checks that the caller is the current owner without moving the slot.
func (c *Slot) expect(s SlotState) error {
	if c.State() == s {
		return nil
	}
	return c.violation(s, s)
}

func (c *Slot) violation(from, to SlotState) error {
	got := c.State()
	if c.ctx != nil {
		c.ctx.Metrics.OwnershipViolations.Inc()
	}
	log.Logger.Error("slot ownership violation",
		zap.Int("fd", c.fd),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("state", got))
	return fmt.Errorf("fd %d %s -> %s in state %s: %w", c.fd, from, to, got, ErrOwnership)
}

// Read drains the socket until it would block or the input buffer is full.
func (c *Slot) Read() ReadResult {
	total := 0
	for len(c.in) < cap(c.in) {
		n, err := unix.Read(c.fd, c.in[len(c.in):cap(c.in)])
		if n > 0 {
			c.in = c.in[:len(c.in)+n]
			total += n
		}
		if err != nil {
			if IsTemporaryError(err) {
				break
			}
			return ReadResult{Status: ReadFailed, N: total, Err: err}
		}
		if n == 0 {
			return ReadResult{Status: ReadClosed, N: total}
		}
	}
	return ReadResult{Status: ReadDrained, N: total}
}

// Process runs the protocol over every complete request buffered so far.
func (c *Slot) Process() ProcessStatus {
	status := ProcessNeedMore
	for len(c.in) > 0 {
		full := c.inputFull()
		consumed, keepAlive, err := c.proto.Process(c.in, &c.out, full)
		if err != nil {
			log.Logger.Debug("protocol error", zap.Int("fd", c.fd), zap.Error(err))
			c.keepAlive = false
			return ProcessFailed
		}
		if consumed == 0 {
			if full {
				c.keepAlive = false
				return ProcessFailed
			}
			break
		}

		n := copy(c.in, c.in[consumed:])
		c.in = c.in[:n]
		status = ProcessResponded
		if !keepAlive {
			c.keepAlive = false
			// anything pipelined after a closing request is discarded
			c.in = c.in[:0]
			break
		}
	}
	return status
}

// Write sends the output buffer until it is empty or the socket would block.
func (c *Slot) Write() WriteResult {
	total := 0
	for c.out.Len() > 0 {
		n, err := unix.Write(c.fd, c.out.Bytes())
		if n > 0 {
			c.out.Next(n)
			total += n
		}
		if err != nil {
			if IsTemporaryError(err) {
				return WriteResult{Status: WritePartial, N: total}
			}
			if isPeerReset(err) {
				log.Logger.Debug("peer reset during write", zap.Int("fd", c.fd), zap.Error(err))
			}
			return WriteResult{Status: WriteFailed, N: total, Err: err}
		}
	}
	return WriteResult{Status: WriteFlushed, N: total}
}

// closeConn unregisters and closes the descriptor and releases the slot.
func (c *Slot) closeConn() error {
	var err error
	if uerr := c.ctx.Poller.Unregister(c.fd); uerr != nil {
		err = fmt.Errorf("unregister fd %d: %w", c.fd, uerr)
	}
	c.active.Store(false)
	c.proto = nil
	c.in = c.in[:0]
	c.out.Reset()
	c.ctx.decrUsers()
	if cerr := unix.Close(c.fd); cerr != nil && err == nil {
		err = fmt.Errorf("close fd %d: %w", c.fd, cerr)
	}
	return err
}
