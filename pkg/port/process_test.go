package port

import (
	"testing"

	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/midi"
)

// fakeSource wires a mix with one heap-backed buffer and a live IO cell, the
// way a remote producer would look after assignment.
func fakeSource(t *testing.T, p *Pool, port *Port, connID uint32, samples []float32) *Mix {
	t.Helper()
	m, err := p.EnsureMix(port, connID)
	if err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, len(samples)*4)
	m.n = 1
	m.buffers[0].ID = 0
	m.buffers[0].NDatas = 1
	m.buffers[0].Datas[0] = Data{Bytes: raw, Chunk: &Chunk{Size: uint32(len(raw))}}
	copy(m.buffers[0].Datas[0].Floats(), samples)

	m.io = &IO{}
	m.io.Status.Store(IOStatusHaveData)
	m.io.BufferID.Store(0)
	return m
}

func midiSource(t *testing.T, p *Pool, port *Port, connID uint32, events []midi.Event) *Mix {
	t.Helper()
	scratch, err := midi.Init(make([]byte, 1024), 256)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if err := scratch.Write(ev.Time, ev.Data); err != nil {
			t.Fatal(err)
		}
	}
	wire := make([]byte, 1024)
	n, err := midi.EncodeSequence(wire, scratch)
	if err != nil {
		t.Fatal(err)
	}

	m, err := p.EnsureMix(port, connID)
	if err != nil {
		t.Fatal(err)
	}
	m.n = 1
	m.buffers[0].ID = 0
	m.buffers[0].NDatas = 1
	m.buffers[0].Datas[0] = Data{Bytes: wire, Chunk: &Chunk{Offset: 0, Size: uint32(n)}}
	m.io = &IO{}
	m.io.Status.Store(IOStatusHaveData)
	m.io.BufferID.Store(0)
	return m
}

func inputPort(t *testing.T, p *Pool, typ graphobj.PortType) *Port {
	t.Helper()
	port, err := p.AllocPort(Input)
	if err != nil {
		t.Fatal(err)
	}
	port.SetObject(&graphobj.Object{Kind: graphobj.KindPort, Port: graphobj.Port{Type: typ}})
	return port
}

func TestInputFloatsSingleSourceZeroCopy(t *testing.T) {
	p := NewPool()
	port := inputPort(t, p, graphobj.PortTypeAudio)
	m := fakeSource(t, p, port, 0, []float32{1, 2, 3, 4})

	out := InputFloats(p, port, 4)
	if &out[0] != &m.buffers[0].Datas[0].Floats()[0] {
		t.Error("single source must be used without copying")
	}
	if got := m.io.Status.Load(); got != IOStatusNeedData {
		t.Errorf("io status = %d", got)
	}
}

func TestInputFloatsSumsAdditionalSources(t *testing.T) {
	p := NewPool()
	port := inputPort(t, p, graphobj.PortTypeAudio)
	fakeSource(t, p, port, 0, []float32{1, 2, 3, 4})
	fakeSource(t, p, port, 1, []float32{10, 20, 30, 40})
	fakeSource(t, p, port, 2, []float32{100, 200, 300, 400})

	out := InputFloats(p, port, 4)
	if &out[0] != &port.EmptyFloats()[0] {
		t.Error("summed result must land in the fallback region")
	}
	want := []float32{111, 222, 333, 444}
	for i, v := range want {
		if out[i] != v {
			t.Errorf("out[%d] = %f, want %f", i, out[i], v)
		}
	}
	if port.Zeroed() {
		t.Error("fallback must be marked dirty after summing")
	}
}

func TestInputFloatsSkipsDeadMixes(t *testing.T) {
	p := NewPool()
	port := inputPort(t, p, graphobj.PortTypeAudio)

	// A mix with no IO cell and a mix with an out-of-range buffer id.
	p.EnsureMix(port, 0)
	m, _ := p.EnsureMix(port, 1)
	m.io = &IO{}
	m.io.BufferID.Store(InvalidBufferID)

	if out := InputFloats(p, port, 4); out != nil {
		t.Errorf("expected no data, got %v", out)
	}
}

func TestInputBytesUsesFirstSource(t *testing.T) {
	p := NewPool()
	port := inputPort(t, p, graphobj.PortTypeVideo)
	first := fakeSource(t, p, port, 0, []float32{1, 2, 3, 4})
	second := fakeSource(t, p, port, 1, []float32{5, 6, 7, 8})

	out := InputBytes(p, port)
	if out == nil {
		t.Fatal("no data")
	}
	if &out[0] != &first.buffers[0].Datas[0].Bytes[0] {
		t.Error("raw input must be the first source's plane")
	}
	// Both cells acknowledged even though only one plane is read.
	for _, m := range []*Mix{first, second} {
		if got := m.io.Status.Load(); got != IOStatusNeedData {
			t.Errorf("mix %d status = %d", m.ID(), got)
		}
	}
}

func TestInputMIDIMergesSources(t *testing.T) {
	p := NewPool()
	port := inputPort(t, p, graphobj.PortTypeMIDI)
	midiSource(t, p, port, 0, []midi.Event{{Time: 2, Data: []byte{0x90, 60, 1}}})
	midiSource(t, p, port, 1, []midi.Event{
		{Time: 1, Data: []byte{0x90, 61, 1}},
		{Time: 3, Data: []byte{0x80, 61, 0}},
	})

	out := InputMIDI(p, port, 256)
	if out == nil {
		t.Fatal("no midi buffer")
	}
	buf, err := midi.At(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := buf.EventCount(); got != 3 {
		t.Fatalf("event count = %d", got)
	}
	times := []uint32{1, 2, 3}
	for i, want := range times {
		ev, err := buf.Event(uint32(i))
		if err != nil {
			t.Fatal(err)
		}
		if ev.Time != want {
			t.Errorf("event %d time = %d, want %d", i, ev.Time, want)
		}
	}
}

func TestOutputPublishesToAllMixes(t *testing.T) {
	p := NewPool()
	port, err := p.AllocPort(Output)
	if err != nil {
		t.Fatal(err)
	}
	port.SetObject(&graphobj.Object{Kind: graphobj.KindPort, Port: graphobj.Port{Type: graphobj.PortTypeAudio}})

	own, _ := p.EnsureMix(port, OwnMix)
	raw := make([]byte, 16*4)
	own.n = 1
	own.buffers[0] = Buffer{ID: 0, flags: bufferFlagOut, NDatas: 1}
	own.buffers[0].Datas[0] = Data{Bytes: raw, Chunk: &Chunk{}}
	own.Reuse(0)
	own.io = &IO{}

	tee, _ := p.EnsureMix(port, 5)
	tee.io = &IO{}

	out := OutputAudio(p, port, 16, 4)
	if out == nil {
		t.Fatal("no output buffer")
	}
	if &out[0] != &raw[0] {
		t.Error("output must be the mapped plane")
	}
	chunk := own.buffers[0].Datas[0].Chunk
	if chunk.Size != 64 || chunk.Stride != 4 {
		t.Errorf("chunk = %+v", chunk)
	}
	for _, m := range []*Mix{own, tee} {
		if got := m.io.Status.Load(); got != IOStatusHaveData {
			t.Errorf("mix %d status = %d", m.ID(), got)
		}
		if got := m.io.BufferID.Load(); got != 0 {
			t.Errorf("mix %d buffer id = %d", m.ID(), got)
		}
	}
}

func TestOutputControlStampsEncodedSize(t *testing.T) {
	p := NewPool()
	port, err := p.AllocPort(Output)
	if err != nil {
		t.Fatal(err)
	}
	port.SetObject(&graphobj.Object{Kind: graphobj.KindPort, Port: graphobj.Port{Type: graphobj.PortTypeMIDI}})

	own, _ := p.EnsureMix(port, OwnMix)
	raw := make([]byte, 1024)
	own.n = 1
	own.buffers[0] = Buffer{ID: 0, flags: bufferFlagOut, NDatas: 1}
	own.buffers[0].Datas[0] = Data{Bytes: raw, Chunk: &Chunk{}}
	own.Reuse(0)
	own.io = &IO{}

	src, err := midi.Init(make([]byte, 256), 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Write(3, []byte{0x90, 60, 100}); err != nil {
		t.Fatal(err)
	}

	if err := OutputControl(p, port, src); err != nil {
		t.Fatal(err)
	}
	chunk := own.buffers[0].Datas[0].Chunk
	if chunk.Size == 0 || chunk.Stride != 1 {
		t.Errorf("chunk = %+v", chunk)
	}
	seq, err := midi.ParseSequence(raw[chunk.Offset : chunk.Offset+chunk.Size])
	if err != nil {
		t.Fatalf("published region does not parse: %v", err)
	}
	if seq.Count() != 1 {
		t.Errorf("wire count = %d", seq.Count())
	}
	if got := own.io.Status.Load(); got != IOStatusHaveData {
		t.Errorf("status = %d", got)
	}
}

func TestOutputWithoutBuffersSignalsError(t *testing.T) {
	p := NewPool()
	port, _ := p.AllocPort(Output)
	m, _ := p.EnsureMix(port, 9)
	m.io = &IO{}

	if out := OutputAudio(p, port, 16, 4); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
	if got := m.io.Status.Load(); got != IOStatusError {
		t.Errorf("status = %d", got)
	}
	if got := m.io.BufferID.Load(); got != InvalidBufferID {
		t.Errorf("buffer id = %d", got)
	}
}
