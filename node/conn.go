package node

import (
	"bytes"
	"net"
)

// DefaultReadBufferSize bounds the bytes buffered for one connection between two processing steps.
const DefaultReadBufferSize = 8 * 1024

// Protocol is the per-connection parser and response builder. It runs on a
// worker and performs no socket I/O.
type Protocol interface {
	// Process consumes one complete request from in and appends its response to
	// out. consumed == 0 means in does not hold a complete request yet; full
	// reports that in cannot grow any further, so the protocol must consume or
	// fail. keepAlive is false when the connection must close after the response.
	Process(in []byte, out *bytes.Buffer, full bool) (consumed int, keepAlive bool, err error)
}

// ProtocolFactory creates the protocol state for a newly accepted peer.
type ProtocolFactory func(peer *net.TCPAddr) Protocol

type ReadStatus uint8

const (
	// ReadDrained means the socket would block or the input buffer is full.
	ReadDrained ReadStatus = iota
	ReadClosed
	ReadFailed
)

type ReadResult struct {
	Status ReadStatus
	N      int
	Err    error
}

type WriteStatus uint8

const (
	WriteFlushed WriteStatus = iota
	WritePartial
	WriteFailed
)

type WriteResult struct {
	Status WriteStatus
	N      int
	Err    error
}

type ProcessStatus uint8

const (
	// ProcessNeedMore means no complete request is buffered, no response was produced.
	ProcessNeedMore ProcessStatus = iota
	ProcessResponded
	// ProcessFailed means the connection must be closed once out is flushed.
	ProcessFailed
)

// SlotState tags which goroutine may touch a slot. Idle slots belong to the
// reactor, Queued ones to the work queue and Processing ones to one worker.
type SlotState uint32

const (
	SlotIdle SlotState = iota
	SlotQueued
	SlotProcessing
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotQueued:
		return "queued"
	case SlotProcessing:
		return "processing"
	}
	return "unknown"
}
