package midi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic identifies an initialized port buffer.
const Magic uint32 = 0x900df00d

// InlineMax is the largest payload stored inline in an event header.
const InlineMax = 4

const (
	headerSize = 24
	eventSize  = 8

	offMagic      = 0
	offBufferSize = 4
	offNFrames    = 8
	offWritePos   = 12
	offEventCount = 16
	offLostEvents = 20
)

// Sentinel errors.
var (
	// ErrNotInitialized is returned when a region does not carry the
	// port buffer magic.
	ErrNotInitialized = errors.New("midi: buffer not initialized")

	// ErrNoSpace is returned by Write when the event cannot be stored;
	// the buffer's lost-event counter has been incremented.
	ErrNoSpace = errors.New("midi: no buffer space")
)

// Buffer is a view over a raw port buffer region.
type Buffer struct {
	b []byte
}

// Init formats a region as an empty port buffer valid for a period of
// nframes and returns the view. The region must hold at least the header.
func Init(b []byte, nframes uint32) (Buffer, error) {
	if len(b) < headerSize {
		return Buffer{}, fmt.Errorf("midi: region too small: %d", len(b))
	}
	binary.LittleEndian.PutUint32(b[offMagic:], Magic)
	binary.LittleEndian.PutUint32(b[offBufferSize:], uint32(len(b)))
	binary.LittleEndian.PutUint32(b[offNFrames:], nframes)
	binary.LittleEndian.PutUint32(b[offWritePos:], 0)
	binary.LittleEndian.PutUint32(b[offEventCount:], 0)
	binary.LittleEndian.PutUint32(b[offLostEvents:], 0)
	return Buffer{b: b}, nil
}

// At wraps an already-initialized region.
func At(b []byte) (Buffer, error) {
	if len(b) < headerSize || binary.LittleEndian.Uint32(b[offMagic:]) != Magic {
		return Buffer{}, ErrNotInitialized
	}
	return Buffer{b: b}, nil
}

// Clear resets the event list, heap position and lost-event counter.
// Called once per period before the first write.
func (m Buffer) Clear() {
	binary.LittleEndian.PutUint32(m.b[offWritePos:], 0)
	binary.LittleEndian.PutUint32(m.b[offEventCount:], 0)
	binary.LittleEndian.PutUint32(m.b[offLostEvents:], 0)
}

func (m Buffer) u32(off int) uint32 { return binary.LittleEndian.Uint32(m.b[off:]) }

// NFrames returns the period length the buffer was initialized for.
func (m Buffer) NFrames() uint32 { return m.u32(offNFrames) }

// EventCount returns the number of stored events.
func (m Buffer) EventCount() uint32 { return m.u32(offEventCount) }

// LostEventCount returns the number of events dropped since Clear.
func (m Buffer) LostEventCount() uint32 { return m.u32(offLostEvents) }

func (m Buffer) lose() {
	binary.LittleEndian.PutUint32(m.b[offLostEvents:], m.u32(offLostEvents)+1)
}

// Event is one stored event. Data aliases the buffer region and stays valid
// until the next Clear.
type Event struct {
	Time uint32
	Data []byte
}

// Event returns the i-th stored event in time order.
func (m Buffer) Event(i uint32) (Event, error) {
	if i >= m.EventCount() {
		return Event{}, fmt.Errorf("midi: event index %d out of range", i)
	}
	h := headerSize + int(i)*eventSize
	time := uint32(binary.LittleEndian.Uint16(m.b[h:]))
	size := int(binary.LittleEndian.Uint16(m.b[h+2:]))
	var data []byte
	if size <= InlineMax {
		data = m.b[h+4 : h+4+size]
	} else {
		off := int(binary.LittleEndian.Uint32(m.b[h+4:]))
		data = m.b[off : off+size]
	}
	return Event{Time: time, Data: data}, nil
}

// MaxEventSize returns the largest payload Reserve can currently accept.
func (m Buffer) MaxEventSize() int {
	// One extra event header is accounted for, since storing the event
	// needs header space too.
	used := headerSize + int(m.u32(offWritePos)) + int(m.EventCount()+1)*eventSize
	size := int(m.u32(offBufferSize))
	switch {
	case used > size:
		return 0
	case size-used < InlineMax:
		return InlineMax
	default:
		return size - used
	}
}

// Reserve appends an event header for a payload of the given size at the
// given period offset and returns the payload destination. Times must be
// non-decreasing across calls; out-of-period or non-monotonic times, zero
// sizes and exhausted capacity are counted as lost events and return nil.
func (m Buffer) Reserve(time uint32, size int) []byte {
	count := m.EventCount()
	if time >= m.NFrames() {
		m.lose()
		return nil
	}
	if count > 0 {
		h := headerSize + int(count-1)*eventSize
		if time < uint32(binary.LittleEndian.Uint16(m.b[h:])) {
			m.lose()
			return nil
		}
	}
	if size <= 0 || size > m.MaxEventSize() {
		m.lose()
		return nil
	}

	h := headerSize + int(count)*eventSize
	binary.LittleEndian.PutUint16(m.b[h:], uint16(time))
	binary.LittleEndian.PutUint16(m.b[h+2:], uint16(size))

	var payload []byte
	if size <= InlineMax {
		payload = m.b[h+4 : h+4+size]
	} else {
		writePos := m.u32(offWritePos) + uint32(size)
		off := m.u32(offBufferSize) - writePos
		binary.LittleEndian.PutUint32(m.b[offWritePos:], writePos)
		binary.LittleEndian.PutUint32(m.b[h+4:], off)
		payload = m.b[off : off+uint32(size)]
	}
	binary.LittleEndian.PutUint32(m.b[offEventCount:], count+1)
	return payload
}

// Write reserves and copies in one step.
func (m Buffer) Write(time uint32, data []byte) error {
	dst := m.Reserve(time, len(data))
	if dst == nil {
		return ErrNoSpace
	}
	copy(dst, data)
	return nil
}
