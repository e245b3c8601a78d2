package midi

import (
	"encoding/binary"
	"errors"
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// seqMagic identifies an encoded control sequence.
const seqMagic uint32 = 0x00514553 // "SEQ"

const (
	seqHeaderSize = 8
	entrySize     = 8
)

// ErrBadSequence is returned when a control region does not parse as a
// sequence.
var ErrBadSequence = errors.New("midi: bad control sequence")

// Sequence is a parsed wire sequence of timed control entries.
type Sequence struct {
	data  []byte
	count uint32
}

// ParseSequence validates a control region and returns a cursor-free view.
func ParseSequence(b []byte) (*Sequence, error) {
	if len(b) < seqHeaderSize || binary.LittleEndian.Uint32(b) != seqMagic {
		return nil, ErrBadSequence
	}
	return &Sequence{
		data:  b[seqHeaderSize:],
		count: binary.LittleEndian.Uint32(b[4:]),
	}, nil
}

// Count returns the number of entries.
func (s *Sequence) Count() uint32 { return s.count }

// Events calls fn for every entry in wire order. Iteration stops when fn
// returns false or the sequence data runs out early.
func (s *Sequence) Events(fn func(time uint32, data []byte) bool) {
	c := cursor{seq: s, left: s.count}
	for {
		time, data, ok := c.current()
		if !ok || !fn(time, data) {
			return
		}
		c.advance()
	}
}

func pad8(n int) int { return (n + 7) &^ 7 }

// cursor walks a sequence entry by entry during a merge.
type cursor struct {
	seq  *Sequence
	off  int
	left uint32
}

func (c *cursor) current() (time uint32, data []byte, ok bool) {
	if c.left == 0 {
		return 0, nil, false
	}
	b := c.seq.data
	if c.off+entrySize > len(b) {
		return 0, nil, false
	}
	time = binary.LittleEndian.Uint32(b[c.off:])
	size := int(binary.LittleEndian.Uint32(b[c.off+4:]))
	if c.off+entrySize+size > len(b) {
		return 0, nil, false
	}
	return time, b[c.off+entrySize : c.off+entrySize+size], true
}

func (c *cursor) advance() {
	if c.left == 0 {
		return
	}
	size := int(binary.LittleEndian.Uint32(c.seq.data[c.off+4:]))
	c.off += entrySize + pad8(size)
	c.left--
}

// EncodeSequence emits the port buffer's events, already time-ordered, as a
// wire sequence into dst and returns the encoded length.
func EncodeSequence(dst []byte, src Buffer) (int, error) {
	if len(dst) < seqHeaderSize {
		return 0, fmt.Errorf("midi: encode: destination too small")
	}
	count := src.EventCount()
	binary.LittleEndian.PutUint32(dst, seqMagic)
	binary.LittleEndian.PutUint32(dst[4:], count)

	off := seqHeaderSize
	for i := uint32(0); i < count; i++ {
		ev, err := src.Event(i)
		if err != nil {
			return 0, err
		}
		need := entrySize + pad8(len(ev.Data))
		if off+need > len(dst) {
			return 0, fmt.Errorf("midi: encode: destination too small at event %d", i)
		}
		binary.LittleEndian.PutUint32(dst[off:], ev.Time)
		binary.LittleEndian.PutUint32(dst[off+4:], uint32(len(ev.Data)))
		n := copy(dst[off+entrySize:], ev.Data)
		for p := off + entrySize + n; p < off+need; p++ {
			dst[p] = 0
		}
		off += need
	}
	return off, nil
}

// MaxMergeInputs is the number of sources MergeSequences can walk without
// allocating. Realtime callers must stay within it.
const MaxMergeInputs = 32

// MergeSequences merges any number of incoming sequences into dst by
// ascending time. On equal times the sequence with the lowest argument index
// wins, which keeps the merge stable across cycles. Events that do not fit
// dst are accounted as lost there. Up to MaxMergeInputs sources the merge
// does not allocate.
func MergeSequences(dst Buffer, seqs ...*Sequence) {
	var fixed [MaxMergeInputs]cursor
	cursors := fixed[:0]
	if len(seqs) > len(fixed) {
		cursors = make([]cursor, 0, len(seqs))
	}
	for _, s := range seqs {
		cursors = append(cursors, cursor{seq: s, left: s.count})
	}

	for {
		best := -1
		var bestTime uint32
		var bestData []byte
		for i := range cursors {
			time, data, ok := cursors[i].current()
			if !ok {
				continue
			}
			if best < 0 || time < bestTime {
				best, bestTime, bestData = i, time, data
			}
		}
		if best < 0 {
			return
		}
		dst.Write(bestTime, bestData)
		cursors[best].advance()
	}
}

// Describe renders a MIDI payload as a readable message name, for debug
// logging and the CLI dump tool.
func Describe(data []byte) string {
	return gomidi.Message(data).String()
}
