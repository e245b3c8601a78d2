package port

import (
	"log/slog"

	"github.com/arpeggia/soundbridge/pkg/midi"
)

// OwnMix is the connection id of the port's own producing mix.
const OwnMix = ^uint32(0)

// maxInputSeqs bounds the number of merged control sources per port. It
// matches the merge's allocation-free input bound.
const maxInputSeqs = midi.MaxMergeInputs

// InputFloats resolves the sample data an input port presents to the
// process callback. The sole connection's buffer is used directly; every
// additional source is summed into the port's fallback region.
func InputFloats(pool *Pool, p *Port, frames uint32) []float32 {
	var out []float32
	layer := 0
	for _, m := range p.mixes {
		io := m.io
		if io == nil {
			continue
		}
		id := io.BufferID.Load()
		if id >= uint32(m.n) {
			continue
		}
		io.Status.Store(IOStatusNeedData)
		src := m.buffers[id].Datas[0].Floats()
		if layer == 0 {
			out = src
		} else {
			Mix2(p.emptyFloats, out, src, int(frames))
			out = p.emptyFloats
			p.Dirty()
		}
		layer++
	}
	return out
}

// InputBytes resolves the first connection's raw plane, for formats with
// no summing semantics (video, opaque data). Further connections have
// their cells acknowledged but their data is ignored.
func InputBytes(pool *Pool, p *Port) []byte {
	var out []byte
	for _, m := range p.mixes {
		io := m.io
		if io == nil {
			continue
		}
		id := io.BufferID.Load()
		if id >= uint32(m.n) {
			continue
		}
		io.Status.Store(IOStatusNeedData)
		if out == nil {
			out = m.buffers[id].Datas[0].Bytes
		}
	}
	return out
}

// InputMIDI merges every connection's control sequence into the port's
// fallback region and returns it as a fresh port buffer.
func InputMIDI(pool *Pool, p *Port, frames uint32) []byte {
	dst, err := midi.Init(p.emptyBytes, frames)
	if err != nil {
		return nil
	}

	var seqs [maxInputSeqs]*midi.Sequence
	n := 0
	for _, m := range p.mixes {
		if n == maxInputSeqs {
			break
		}
		io := m.io
		if io == nil {
			continue
		}
		id := io.BufferID.Load()
		if id >= uint32(m.n) {
			continue
		}
		io.Status.Store(IOStatusNeedData)

		d := &m.buffers[id].Datas[0]
		if d.Chunk == nil {
			continue
		}
		off, size := d.Chunk.Offset, d.Chunk.Size
		if int(off)+int(size) > len(d.Bytes) {
			continue
		}
		seq, err := midi.ParseSequence(d.Bytes[off : off+size])
		if err != nil {
			continue
		}
		seqs[n] = seq
		n++
	}
	midi.MergeSequences(dst, seqs[:n]...)
	return p.emptyBytes
}

// OutputAudio dequeues the port's next produce buffer, stamps its chunk
// with frames samples of the given stride and publishes status/buffer-id
// to every attached connection cell (the tee path: one produced buffer
// fans out with no copy). Returns nil when the port has no own mix or ran
// out of buffers.
func OutputAudio(pool *Pool, p *Port, frames uint32, stride int32) []byte {
	status, bufID := IOStatusError, InvalidBufferID
	var ptr []byte

	if m := pool.FindMix(p, OwnMix); m != nil && m.n > 0 {
		if b := m.Dequeue(); b != nil {
			// Requeue right away; OUT only brackets this cycle.
			m.Reuse(b.ID)
			d := &b.Datas[0]
			d.Chunk.Offset = 0
			d.Chunk.Size = frames * uint32(stride)
			d.Chunk.Stride = stride
			ptr = d.Bytes
			status, bufID = IOStatusHaveData, b.ID
		} else {
			slog.Warn("port: out of buffers", "port", p.id)
		}
	}

	for _, m := range p.mixes {
		if m.io == nil {
			continue
		}
		m.io.Status.Store(status)
		m.io.BufferID.Store(bufID)
	}
	return ptr
}

// OutputControl encodes a control port's event buffer into the next
// produce buffer and publishes it. Unlike OutputAudio the chunk size is
// only known after encoding, so the stamp happens here.
func OutputControl(pool *Pool, p *Port, src midi.Buffer) error {
	status, bufID := IOStatusError, InvalidBufferID
	var encErr error

	if m := pool.FindMix(p, OwnMix); m != nil && m.n > 0 {
		if b := m.Dequeue(); b != nil {
			m.Reuse(b.ID)
			d := &b.Datas[0]
			n, err := midi.EncodeSequence(d.Bytes, src)
			if err != nil {
				encErr = err
			} else {
				d.Chunk.Offset = 0
				d.Chunk.Size = uint32(n)
				d.Chunk.Stride = 1
				status, bufID = IOStatusHaveData, b.ID
			}
		} else {
			slog.Warn("port: out of buffers", "port", p.id)
		}
	}

	for _, m := range p.mixes {
		if m.io == nil {
			continue
		}
		m.io.Status.Store(status)
		m.io.BufferID.Store(bufID)
	}
	return encErr
}
