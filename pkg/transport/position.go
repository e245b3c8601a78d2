package transport

import (
	"github.com/arpeggia/soundbridge/pkg/activation"
)

// State is the external transport state.
type State int

const (
	// Stopped means the transport is halted.
	Stopped State = iota
	// Starting means a start was requested and peers are synchronizing.
	Starting
	// Rolling means the transport is running.
	Rolling
	// Looping means the transport is running inside a looping segment.
	Looping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Rolling:
		return "rolling"
	case Looping:
		return "looping"
	}
	return "unknown"
}

// TicksPerBeat is the fixed tick resolution of the external record.
const TicksPerBeat = 1920.0

// Validity bits of Position.Valid.
const (
	PositionBBT         uint32 = 0x10
	PositionTimecode    uint32 = 0x20
	PositionBBTOffset   uint32 = 0x40
	PositionAudioVideo  uint32 = 0x80
	PositionVideoOffset uint32 = 0x100
)

// Position is the classic transport position record. Bar and beat are
// 1-based. Gen1/Gen2 bracket every write so a concurrent reader can detect
// a torn read: the fields are consistent only when both markers match.
type Position struct {
	Gen1 uint32

	Usecs     uint64
	FrameRate uint32
	Frame     uint32
	Valid     uint32

	Bar          int32
	Beat         int32
	Tick         int32
	BarStartTick float64
	BeatsPerBar  float64
	BeatType     float64
	TicksPerBeat float64
	BPM          float64
	BBTOffset    uint32

	Gen2 uint32
}

// Consistent reports whether the record was read untorn.
func (p *Position) Consistent() bool { return p.Gen1 == p.Gen2 }

// subClamp returns a-b clamped at zero. The driver updates the clock and
// the offset as separate stores, so a reader can briefly see an offset
// ahead of the position.
func subClamp(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// StateOf derives the transport state from the driver's activation record.
func StateOf(a *activation.Record) State {
	switch a.Position.State {
	case activation.PositionStarting:
		return Starting
	case activation.PositionRunning:
		if a.ActiveSegment().Flags&activation.SegmentFlagLooping != 0 {
			return Looping
		}
		return Rolling
	default:
		return Stopped
	}
}

// FromActivation projects the driver's segment clock into the external
// record and returns the transport state. d may be nil to query only the
// state. Every call bumps the generation markers around the write.
func FromActivation(a *activation.Record, d *Position) State {
	state := StateOf(a)
	if d == nil {
		return state
	}

	pos := &a.Position
	seg := a.ActiveSegment()

	d.Gen1++

	d.Usecs = pos.Clock.Nsec / 1000
	d.FrameRate = pos.Clock.RateDenom

	running := subClamp(pos.Clock.Position, pos.Offset)
	if running >= seg.Start && (seg.Duration == 0 || running < seg.Start+seg.Duration) {
		d.Frame = uint32(float64(running-seg.Start)*seg.Rate) + uint32(seg.Position)
	} else {
		d.Frame = uint32(seg.Position)
	}

	d.Valid = 0
	if a.SegmentOwner[0].Load() != activation.NoOwner &&
		seg.Bar.Flags&activation.BarFlagValid != 0 {
		d.Valid |= PositionBBT

		d.BBTOffset = seg.Bar.Offset
		if seg.Bar.Offset != 0 {
			d.Valid |= PositionBBTOffset
		}

		d.BeatsPerBar = seg.Bar.SignatureNum
		d.BeatType = seg.Bar.SignatureDenom
		d.TicksPerBeat = TicksPerBeat
		d.BPM = seg.Bar.BPM

		absBeat := seg.Bar.Beat

		d.Bar = int32(absBeat / d.BeatsPerBar)
		beats := float64(d.Bar) * d.BeatsPerBar
		d.BarStartTick = beats * d.TicksPerBeat
		d.Beat = int32(absBeat - beats)
		beats += float64(d.Beat)
		d.Tick = int32((absBeat - beats) * d.TicksPerBeat)
		d.Bar++
		d.Beat++
	}
	d.Gen2 = d.Gen1
	return state
}

// ApplyPosition writes the external record's bar data into the shared
// segment. Only the current timebase master may call this.
func ApplyPosition(d *Position, a *activation.Record) {
	seg := a.ActiveSegment()

	if d.Valid&PositionBBT == 0 {
		return
	}
	seg.Bar.Flags = activation.BarFlagValid
	if d.Valid&PositionBBTOffset != 0 {
		seg.Bar.Offset = d.BBTOffset
	} else {
		seg.Bar.Offset = 0
	}
	seg.Bar.SignatureNum = d.BeatsPerBar
	seg.Bar.SignatureDenom = d.BeatType
	seg.Bar.BPM = d.BPM
	seg.Bar.Beat = float64(d.Bar-1)*d.BeatsPerBar + float64(d.Beat-1) +
		float64(d.Tick)/d.TicksPerBeat
}

// CurrentFrame extrapolates the transport frame from the last clock snapshot
// to the monotonic time nowNsec. Matches the external "current transport
// frame" query, which must move between cycles while rolling.
func CurrentFrame(a *activation.Record, sampleRate uint32, nowNsec uint64) uint32 {
	pos := &a.Position
	running := subClamp(pos.Clock.Position, pos.Offset)
	if pos.State == activation.PositionRunning && nowNsec > pos.Clock.Nsec {
		elapsed := nowNsec - pos.Clock.Nsec
		running += uint64(float64(sampleRate) / 1e9 * float64(elapsed))
	}
	seg := a.ActiveSegment()
	return uint32(float64(subClamp(running, seg.Start))*seg.Rate) + uint32(seg.Position)
}
