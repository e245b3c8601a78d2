package transport

import (
	"errors"

	"github.com/arpeggia/soundbridge/pkg/activation"
)

// Sentinel errors.
var (
	// ErrBusy is returned by a conditional acquire when another client
	// already owns the timebase.
	ErrBusy = errors.New("transport: timebase owned by another client")

	// ErrNotOwner is returned when releasing a timebase the caller does
	// not hold.
	ErrNotOwner = errors.New("transport: not the timebase owner")
)

// AcquireTimebase claims the single-writer bar data slot in the driver's
// record for nodeID. With conditional set, the claim fails with ErrBusy when
// another client holds the slot; otherwise ownership is taken over
// unconditionally. Acquiring a slot already held by nodeID is a no-op.
func AcquireTimebase(driver *activation.Record, nodeID uint32, conditional bool) error {
	owner := &driver.SegmentOwner[0]
	if owner.Load() == nodeID {
		return nil
	}
	if conditional {
		if !owner.CompareAndSwap(activation.NoOwner, nodeID) {
			return ErrBusy
		}
		return nil
	}
	owner.Store(nodeID)
	return nil
}

// ReleaseTimebase gives up the bar data slot. Fails with ErrNotOwner unless
// nodeID currently holds it.
func ReleaseTimebase(driver *activation.Record, nodeID uint32) error {
	if !driver.SegmentOwner[0].CompareAndSwap(nodeID, activation.NoOwner) {
		return ErrNotOwner
	}
	return nil
}

// TimebaseOwner returns the current owner, or activation.NoOwner.
func TimebaseOwner(driver *activation.Record) uint32 {
	return driver.SegmentOwner[0].Load()
}

// RequestStart posts a start command for the scheduler that owns the
// transport. The command only requests; this client never moves the
// transport itself.
func RequestStart(driver *activation.Record) {
	driver.Command.Store(activation.CommandStart)
}

// RequestStop posts a stop command.
func RequestStop(driver *activation.Record) {
	driver.Command.Store(activation.CommandStop)
}

// RequestReposition writes a relocation request into the requester's own
// record and stakes the reposition slot in the driver's record. The owning
// scheduler observes the slot out-of-band and performs the move.
func RequestReposition(driver, own *activation.Record, nodeID, frame uint32) {
	own.Reposition = activation.Segment{
		Position: uint64(frame),
		Rate:     1.0,
	}
	driver.RepositionOwner.Store(nodeID)
}
