package node

import "strings"

// EventMask is a set of readiness kinds, used both as interest and as delivered events.
type EventMask uint32

const (
	EventReadable EventMask = 1 << iota
	EventWritable
	// EventHangup covers peer hangup, half close and socket errors.
	EventHangup
)

func (m EventMask) String() string {
	var parts []string
	if m&EventReadable != 0 {
		parts = append(parts, "readable")
	}
	if m&EventWritable != 0 {
		parts = append(parts, "writable")
	}
	if m&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd   int
	Mask EventMask
}

// Multiplexer is the readiness source driven by the Reactor.
//
// A descriptor registered one-shot is disabled after any delivery and stays
// silent until Rearm is called for it. Rearm must be safe to call from any
// goroutine; every other method is only called from the reactor goroutine.
type Multiplexer interface {
	Register(fd int, interest EventMask, oneshot bool) error
	Rearm(fd int, interest EventMask) error
	Unregister(fd int) error
	// Wait blocks for at most msec milliseconds (forever when negative) and
	// fills events. It returns ErrSignalStopped once Wake has been called.
	Wait(events []Event, msec int) (int, error)
	Wake() error
	Close() error
}
