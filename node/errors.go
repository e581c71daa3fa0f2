package node

import (
	"errors"
	"fmt"
)

var (
	ErrSignalStopped    = errors.New("signal stopped")
	ErrCapacityExceeded = errors.New("connection table full")
	ErrSlotNotActive    = errors.New("slot not active")
	// ErrOwnership reports a slot transition attempted by a thread that does not own the slot.
	ErrOwnership = errors.New("slot ownership violation")
)

// PoolFailure names why a Pool could not be constructed.
type PoolFailure uint8

const (
	InvalidWorkerCount PoolFailure = iota + 1
	InvalidQueueCapacity
)

func (f PoolFailure) String() string {
	switch f {
	case InvalidWorkerCount:
		return "invalid worker count"
	case InvalidQueueCapacity:
		return "invalid queue capacity"
	}
	return "unknown"
}

// PoolError is returned by NewPool. No worker is left running when it is returned.
type PoolError struct {
	Reason PoolFailure
	Value  int
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("worker pool: %s: %d", e.Reason, e.Value)
}
