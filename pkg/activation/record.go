package activation

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Cycle status values, written to Record.Status.
const (
	StatusNotTriggered int32 = iota
	StatusTriggered
	StatusAwake
	StatusRunning
	StatusFinished
)

// Transport position states, stored in Position.State.
const (
	PositionStopped uint32 = iota
	PositionStarting
	PositionRunning
)

// Transport commands, posted by any client and consumed by the scheduler.
const (
	CommandNone uint32 = iota
	CommandStart
	CommandStop
)

// Segment flag bits.
const (
	SegmentFlagLooping uint32 = 1 << 0
)

// Bar flag bits.
const (
	BarFlagValid uint32 = 1 << 0
)

// MaxSegments is the number of timeline segments carried by a Position.
const MaxSegments = 8

// NoOwner is the unowned value of the segment and reposition owner slots.
const NoOwner uint32 = 0

// Clock is the monotonic hardware clock snapshot maintained by the driver.
type Clock struct {
	ID        uint32
	Flags     uint32
	Nsec      uint64
	RateNum   uint32
	RateDenom uint32
	Position  uint64
	Duration  uint64
	Delay     int64
	RateDiff  float64
	NextNsec  uint64
}

// Bar carries musical time for a segment. Valid only when Flags has
// BarFlagValid set; written by the timebase master only.
type Bar struct {
	Flags          uint32
	Offset         uint32
	SignatureNum   float64
	SignatureDenom float64
	BPM            float64
	Beat           float64
}

// Segment is one piece of the timeline.
type Segment struct {
	Version  uint32
	Flags    uint32
	Start    uint64
	Duration uint64
	Rate     float64
	Position uint64
	Bar      Bar
}

// Position is the driver-maintained view of the timeline.
type Position struct {
	Clock     Clock
	Offset    uint64
	State     uint32
	NSegments uint32
	Segments  [MaxSegments]Segment
}

// TriggerState is the pending/required wake counter pair for one link.
// Both processes on a link touch it, so all access is atomic.
type TriggerState struct {
	Required atomic.Int32
	Pending  atomic.Int32
}

// Dec consumes one required trigger and reports whether the dependent is
// now ready to be woken.
func (s *TriggerState) Dec() bool {
	return s.Pending.Add(-1) == 0
}

// Reset re-arms the counter for the next cycle.
func (s *TriggerState) Reset() {
	s.Pending.Store(s.Required.Load())
}

// Record is the shared activation record of a single graph node.
type Record struct {
	Status atomic.Int32
	_      [4]byte

	Trigger TriggerState

	SignalTime atomic.Uint64
	AwakeTime  atomic.Uint64
	FinishTime atomic.Uint64

	XRunCount     atomic.Uint32
	PendingSync   atomic.Uint32
	PendingNewPos atomic.Uint32
	_             [4]byte
	SyncTimeout   atomic.Uint64

	// SegmentOwner elects the single writer of the bar data per segment
	// slot; slot 0 guards the main timeline. NoOwner means unowned.
	SegmentOwner [2]atomic.Uint32

	RepositionOwner atomic.Uint32
	_               [4]byte
	Reposition      Segment

	Command atomic.Uint32
	_       [4]byte

	Position Position
}

// Size is the byte size a shared region must have to hold a Record.
var Size = int(unsafe.Sizeof(Record{}))

// RecordAt overlays a Record on mapped shared memory. The region must be at
// least Size bytes and 8-byte aligned.
func RecordAt(b []byte) (*Record, error) {
	if len(b) < Size {
		return nil, fmt.Errorf("activation: region too small: %d < %d", len(b), Size)
	}
	p := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(p)%8 != 0 {
		return nil, fmt.Errorf("activation: region not 8-byte aligned")
	}
	return (*Record)(p), nil
}

// NewRecord allocates a process-local Record. Used by in-process drivers and
// tests; real peers get their records through RecordAt.
func NewRecord() *Record {
	return &Record{}
}

// ActiveSegment returns the first timeline segment.
func (r *Record) ActiveSegment() *Segment {
	return &r.Position.Segments[0]
}
