package port

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/arpeggia/soundbridge/pkg/shm"
)

// IO status values exchanged through the shared cell.
const (
	IOStatusOK       int32 = 0
	IOStatusNeedData int32 = 1
	IOStatusHaveData int32 = 2
	IOStatusError    int32 = -1
)

// InvalidBufferID marks an empty IO cell.
const InvalidBufferID = ^uint32(0)

// IO is the shared status/buffer-id exchange cell between the two ends of a
// connection. It lives in server memory; both sides use atomic access.
type IO struct {
	Status   atomic.Int32
	BufferID atomic.Uint32
}

// IOSize is the shared cell size.
var IOSize = int(unsafe.Sizeof(IO{}))

// IOAt overlays an IO cell on mapped memory.
func IOAt(b []byte) (*IO, error) {
	if len(b) < IOSize {
		return nil, fmt.Errorf("port: io region too small: %d", len(b))
	}
	p := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(p)%4 != 0 {
		return nil, fmt.Errorf("port: io region misaligned")
	}
	return (*IO)(p), nil
}

// Chunk describes the valid window of a data plane. Single writer: the
// producing side fills it each cycle.
type Chunk struct {
	Offset uint32
	Size   uint32
	Stride int32
	Flags  int32
}

// Data is one plane of a shared buffer.
type Data struct {
	Bytes []byte
	Chunk *Chunk
}

// Floats views the plane as samples.
func (d *Data) Floats() []float32 {
	n := len(d.Bytes) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(d.Bytes))), n)
}

const bufferFlagOut = 1 << 0

// Buffer is a mapped shared buffer of up to MaxBufferDatas planes.
type Buffer struct {
	ID    uint32
	flags uint32

	Datas  [MaxBufferDatas]Data
	NDatas int

	mems []*shm.Mapping
}

// Out reports whether the buffer is held by the consumer.
func (b *Buffer) Out() bool { return b.flags&bufferFlagOut != 0 }

// Mix is one connection endpoint attached to a port.
type Mix struct {
	id   uint32
	port *Port

	io    *IO
	ioMap *shm.Mapping

	buffers [MaxBuffers]Buffer
	n       int
	queue   []uint32
}

// ID returns the connection id this mix serves.
func (m *Mix) ID() uint32 { return m.id }

// Port returns the owning port.
func (m *Mix) Port() *Port { return m.port }

// IO returns the shared exchange cell, or nil before assignment.
func (m *Mix) IO() *IO { return m.io }

// SetIO attaches the exchange cell mapping, releasing any previous one.
func (m *Mix) SetIO(io *IO, mapping *shm.Mapping) {
	if m.ioMap != nil && m.ioMap != mapping {
		m.ioMap.Unmap()
	}
	m.io = io
	m.ioMap = mapping
}

// Buffers returns the number of assigned buffers.
func (m *Mix) Buffers() int { return m.n }

// Buffer returns the assigned buffer with the given id, or nil.
func (m *Mix) Buffer(id uint32) *Buffer {
	if id >= uint32(m.n) {
		return nil
	}
	return &m.buffers[id]
}

// Dequeue pops the oldest reusable buffer and marks it held by the
// consumer. Returns nil when the queue is empty.
func (m *Mix) Dequeue() *Buffer {
	if len(m.queue) == 0 {
		return nil
	}
	id := m.queue[0]
	m.queue = m.queue[:copy(m.queue, m.queue[1:])]
	b := &m.buffers[id]
	b.flags |= bufferFlagOut
	return b
}

// Reuse recycles a held buffer to the queue tail. A buffer that is not
// currently held is left alone, which makes double recycling harmless.
func (m *Mix) Reuse(id uint32) {
	if id >= uint32(m.n) {
		return
	}
	b := &m.buffers[id]
	if !b.Out() {
		return
	}
	b.flags &^= bufferFlagOut
	m.queue = append(m.queue, id)
}

// ClearBuffers unmaps and forgets the assigned buffer set.
func (m *Mix) ClearBuffers() {
	for i := 0; i < m.n; i++ {
		b := &m.buffers[i]
		for _, mm := range b.mems {
			mm.Unmap()
		}
		b.mems = nil
		b.NDatas = 0
		b.flags = 0
	}
	m.n = 0
	m.queue = m.queue[:0]
}

// clear releases everything on the mix for recycling into the arena.
func (m *Mix) clear() {
	m.ClearBuffers()
	if m.ioMap != nil {
		m.ioMap.Unmap()
		m.ioMap = nil
	}
	m.io = nil
	m.port = nil
}

// PlaneKind selects how a plane descriptor resolves to memory.
type PlaneKind int

const (
	// PlaneInline places the plane at an offset within the buffer's own
	// mapping.
	PlaneInline PlaneKind = iota
	// PlaneMemRef resolves the plane through a separately announced
	// memory block.
	PlaneMemRef
)

// PlaneDesc describes one data plane of an incoming buffer assignment.
type PlaneDesc struct {
	Kind        PlaneKind
	MemID       uint32 // PlaneMemRef: referenced block id
	DataOffset  uint32 // PlaneInline: offset within the buffer mapping
	MaxSize     uint32
	ChunkOffset uint32 // chunk location within the buffer mapping
}

// BufferDesc describes one incoming buffer assignment.
type BufferDesc struct {
	MemID  uint32
	Offset uint32
	Size   uint32
	Planes []PlaneDesc
}

// AssignBuffers replaces the mix's buffer set from server descriptors. The
// previous set is cleared first; each plane is mapped (directly or through
// its referenced memory block) and its pages are locked so the process
// cycle never faults. A plane that cannot be resolved aborts the whole
// assignment.
func (p *Pool) AssignBuffers(mem *shm.Pool, m *Mix, dir Direction, descs []BufferDesc) error {
	m.ClearBuffers()

	mode := shm.ModeReadWrite
	for i, desc := range descs {
		if i >= MaxBuffers {
			slog.Warn("port: too many buffers in assignment", "n", len(descs))
			break
		}
		mm, err := mem.Map(desc.MemID, desc.Offset, desc.Size, mode, nil)
		if err != nil {
			m.ClearBuffers()
			return fmt.Errorf("port: buffer %d: %w", i, err)
		}
		base := mm.Bytes()

		b := &m.buffers[i]
		b.ID = uint32(i)
		b.flags = 0
		b.mems = append(b.mems[:0], mm)
		b.NDatas = 0

		for j, plane := range desc.Planes {
			if j >= MaxBufferDatas {
				break
			}
			d := &b.Datas[j]

			if int(plane.ChunkOffset)+int(unsafe.Sizeof(Chunk{})) > len(base) {
				m.ClearBuffers()
				return fmt.Errorf("port: buffer %d plane %d: chunk out of range", i, j)
			}
			d.Chunk = (*Chunk)(unsafe.Pointer(&base[plane.ChunkOffset]))

			switch plane.Kind {
			case PlaneInline:
				if int(plane.DataOffset)+int(plane.MaxSize) > len(base) {
					m.ClearBuffers()
					return fmt.Errorf("port: buffer %d plane %d: data out of range", i, j)
				}
				d.Bytes = base[plane.DataOffset : plane.DataOffset+plane.MaxSize]
			case PlaneMemRef:
				ref, err := mem.Map(plane.MemID, 0, plane.MaxSize, mode, nil)
				if err != nil {
					m.ClearBuffers()
					return fmt.Errorf("port: buffer %d plane %d: %w", i, j, err)
				}
				b.mems = append(b.mems, ref)
				d.Bytes = ref.Bytes()
			}
			b.NDatas++
		}

		if err := mm.Lock(); err != nil {
			slog.Warn("port: failed to lock buffer pages", "buffer", i, "error", err)
		}

		m.port.ResetFallback(MaxBufferFrames)

		m.n++
		b.flags |= bufferFlagOut
		if dir == Output {
			m.Reuse(b.ID)
		}
	}
	return nil
}
