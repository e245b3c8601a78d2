package port

import (
	"errors"
	"unsafe"

	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/midi"
)

// Arena capacities. Fixed: bounded capacity and O(1) alloc/release are part
// of the real-time contract, the pools never grow.
const (
	MaxPorts       = 1024
	MaxMix         = 4096
	MaxBuffers     = 2
	MaxBufferDatas = 4
	MaxBufferFrames = 8192
	MaxAlign       = 16
)

// ErrExhausted is returned when an arena has no free slot left.
var ErrExhausted = errors.New("port: pool exhausted")

// Direction of a local port.
type Direction int

const (
	// Input receives data from upstream connections.
	Input Direction = iota
	// Output produces data for downstream connections.
	Output
)

// String returns the direction name.
func (d Direction) String() string {
	if d == Input {
		return "in"
	}
	return "out"
}

// Port is one slot of the per-direction port arena.
type Port struct {
	id  uint32
	dir Direction

	valid      bool
	zeroed     bool
	haveFormat bool
	rate       uint32

	obj   *graphobj.Object
	mixes []*Mix

	emptyRaw    []float32
	emptyFloats []float32
	emptyBytes  []byte
}

// ID returns the slot id within the direction arena.
func (p *Port) ID() uint32 { return p.id }

// Direction returns the port direction.
func (p *Port) Direction() Direction { return p.dir }

// Valid reports whether the slot is currently allocated.
func (p *Port) Valid() bool { return p.valid }

// Object returns the registry object backing the port.
func (p *Port) Object() *graphobj.Object { return p.obj }

// SetObject attaches the registry object.
func (p *Port) SetObject(o *graphobj.Object) { p.obj = o }

// Type returns the negotiated port format type.
func (p *Port) Type() graphobj.PortType {
	if p.obj == nil {
		return graphobj.PortTypeOther
	}
	return p.obj.Port.Type
}

// SetFormat records the negotiated sample rate.
func (p *Port) SetFormat(rate uint32) {
	p.rate = rate
	p.haveFormat = true
}

// ClearFormat drops the negotiated format.
func (p *Port) ClearFormat() { p.haveFormat = false }

// HaveFormat reports whether a format was negotiated.
func (p *Port) HaveFormat() bool { return p.haveFormat }

// Rate returns the negotiated sample rate.
func (p *Port) Rate() uint32 { return p.rate }

// Mixes returns the attached connection mixers. The returned slice is owned
// by the port; callers iterate it only.
func (p *Port) Mixes() []*Mix { return p.mixes }

// EmptyFloats returns the fallback sample region.
func (p *Port) EmptyFloats() []float32 { return p.emptyFloats }

// EmptyBytes returns the fallback region as raw bytes.
func (p *Port) EmptyBytes() []byte { return p.emptyBytes }

// ResetFallback reinitializes the fallback region: a fresh MIDI header for
// control ports, zeroed samples for everything else.
func (p *Port) ResetFallback(frames uint32) {
	if p.Type() == graphobj.PortTypeMIDI {
		midi.Init(p.emptyBytes, frames)
	} else {
		clear(p.emptyFloats)
	}
	p.zeroed = true
}

// Dirty marks the fallback region as holding data (the sum path writes
// into it).
func (p *Port) Dirty() { p.zeroed = false }

// Zeroed reports whether the fallback region is still pristine.
func (p *Port) Zeroed() bool { return p.zeroed }

// Pool is the set of arenas for one client.
type Pool struct {
	ports     [2][MaxPorts]Port
	freePorts [2][]*Port

	mixes     [MaxMix]Mix
	freeMixes []*Mix
}

// NewPool builds the arenas with every slot free.
func NewPool() *Pool {
	p := &Pool{}
	for d := 0; d < 2; d++ {
		p.freePorts[d] = make([]*Port, 0, MaxPorts)
		for i := MaxPorts - 1; i >= 0; i-- {
			slot := &p.ports[d][i]
			slot.id = uint32(i)
			slot.dir = Direction(d)
			p.freePorts[d] = append(p.freePorts[d], slot)
		}
	}
	p.freeMixes = make([]*Mix, 0, MaxMix)
	for i := MaxMix - 1; i >= 0; i-- {
		p.freeMixes = append(p.freeMixes, &p.mixes[i])
	}
	return p
}

// AllocPort takes a free slot from the direction arena. The fallback region
// is allocated lazily here, on the control path, and kept across recycling.
func (p *Pool) AllocPort(dir Direction) (*Port, error) {
	free := p.freePorts[dir]
	n := len(free)
	if n == 0 {
		return nil, ErrExhausted
	}
	slot := free[n-1]
	p.freePorts[dir] = free[:n-1]

	if slot.emptyRaw == nil {
		slot.emptyRaw = make([]float32, MaxBufferFrames+MaxAlign/4)
		off := 0
		for uintptr(unsafe.Pointer(&slot.emptyRaw[off]))%MaxAlign != 0 {
			off++
		}
		slot.emptyFloats = slot.emptyRaw[off : off+MaxBufferFrames]
		slot.emptyBytes = unsafe.Slice(
			(*byte)(unsafe.Pointer(&slot.emptyFloats[0])), MaxBufferFrames*4)
	}

	slot.valid = true
	slot.zeroed = false
	slot.haveFormat = false
	slot.rate = 0
	slot.obj = nil
	slot.mixes = slot.mixes[:0]
	return slot, nil
}

// ReleasePort returns the slot to its free list, releasing all attached
// mixers first. Safe against double release.
func (p *Pool) ReleasePort(port *Port) {
	if port == nil || !port.valid {
		return
	}
	for _, m := range port.mixes {
		m.clear()
		p.freeMixes = append(p.freeMixes, m)
	}
	port.mixes = port.mixes[:0]
	port.valid = false
	port.obj = nil
	p.freePorts[port.dir] = append(p.freePorts[port.dir], port)
}

// FindMix returns the mix for (port, connID), or nil.
func (p *Pool) FindMix(port *Port, connID uint32) *Mix {
	for _, m := range port.mixes {
		if m.id == connID {
			return m
		}
	}
	return nil
}

// EnsureMix returns the existing mix for (port, connID) or allocates one
// from the global mix arena.
func (p *Pool) EnsureMix(port *Port, connID uint32) (*Mix, error) {
	if m := p.FindMix(port, connID); m != nil {
		return m, nil
	}
	n := len(p.freeMixes)
	if n == 0 {
		return nil, ErrExhausted
	}
	m := p.freeMixes[n-1]
	p.freeMixes = p.freeMixes[:n-1]

	m.id = connID
	m.port = port
	m.io = nil
	m.n = 0
	m.queue = m.queue[:0]
	port.mixes = append(port.mixes, m)
	return m, nil
}

// ReleaseMix detaches the mix from its port and recycles it.
func (p *Pool) ReleaseMix(m *Mix) {
	if m.port == nil {
		return
	}
	mixes := m.port.mixes
	for i, other := range mixes {
		if other == m {
			m.port.mixes = append(mixes[:i], mixes[i+1:]...)
			break
		}
	}
	m.clear()
	p.freeMixes = append(p.freeMixes, m)
}

// FreePorts returns the number of free slots for a direction.
func (p *Pool) FreePorts(dir Direction) int { return len(p.freePorts[dir]) }

// FreeMixes returns the number of free mix slots.
func (p *Pool) FreeMixes() int { return len(p.freeMixes) }
