package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame header: 4-byte payload length, 2-byte opcode, 2 reserved bytes.
const frameHeaderSize = 8

// MaxFrameSize bounds a single control message.
const MaxFrameSize = 1 << 20

// Sentinel errors.
var (
	// ErrFrameTooLarge is returned for frames over MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrClosed is returned after the connection is closed.
	ErrClosed = errors.New("protocol: connection closed")
)

// Frame is one raw message plus any descriptors that rode along.
type Frame struct {
	Op      Opcode
	Payload []byte
	FDs     []int
}

// framer moves frames over some byte transport.
type framer interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Handler receives decoded server messages. Descriptor-carrying messages
// arrive with their FD fields already resolved; the handler owns those
// descriptors.
type Handler interface {
	OnTransport(Transport)
	OnSetParam(SetParam)
	OnSetIO(SetIO)
	OnCommand(Command)
	OnAddMem(AddMem)
	OnRemoveMem(RemoveMem)
	OnPortSetParam(PortSetParam)
	OnPortUseBuffers(PortUseBuffers)
	OnPortSetIO(PortSetIO)
	OnSetActivation(SetActivation)
	OnGlobal(Global)
	OnGlobalRemove(GlobalRemove)
	OnDone(Done)
	OnError(Error)
}

// Conn is a control-plane connection.
type Conn struct {
	fr framer

	writeMu sync.Mutex
	closed  bool
}

// Send encodes and writes one message.
func (c *Conn) Send(m Message) error {
	return c.SendFDs(m, nil)
}

// SendFDs encodes and writes one message with descriptors attached.
func (c *Conn) SendFDs(m Message, fds []int) error {
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("protocol: marshal op %d: %w", m.Op(), err)
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.fr.WriteFrame(Frame{Op: m.Op(), Payload: payload, FDs: fds})
}

// RecvFrame reads one raw frame. Server-side implementations use this for
// the client-to-server direction, which Serve does not dispatch.
func (c *Conn) RecvFrame() (Frame, error) {
	return c.fr.ReadFrame()
}

// Close shuts the connection down. Pending Serve calls return.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.fr.Close()
}

func pickFD(fds []int, idx int) int {
	if idx < 0 || idx >= len(fds) {
		return -1
	}
	return fds[idx]
}

// Serve reads and dispatches messages until the connection fails or is
// closed. The returned error is nil on clean EOF.
func (c *Conn) Serve(h Handler) error {
	for {
		f, err := c.fr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if err := dispatch(f, h); err != nil {
			slog.Warn("protocol: dropping message", "op", f.Op, "error", err)
		}
	}
}

func dispatch(f Frame, h Handler) error {
	switch f.Op {
	case OpTransport:
		var m Transport
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		m.ReadFD = pickFD(f.FDs, m.ReadFDIndex)
		m.WriteFD = pickFD(f.FDs, m.WriteFDIndex)
		h.OnTransport(m)
	case OpSetParam:
		var m SetParam
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnSetParam(m)
	case OpSetIO:
		var m SetIO
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnSetIO(m)
	case OpCommand:
		var m Command
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnCommand(m)
	case OpAddMem:
		var m AddMem
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		m.FD = pickFD(f.FDs, m.FDIndex)
		h.OnAddMem(m)
	case OpRemoveMem:
		var m RemoveMem
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnRemoveMem(m)
	case OpPortSetParam:
		var m PortSetParam
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnPortSetParam(m)
	case OpPortUseBuffers:
		var m PortUseBuffers
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnPortUseBuffers(m)
	case OpPortSetIO:
		var m PortSetIO
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnPortSetIO(m)
	case OpSetActivation:
		var m SetActivation
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		m.SignalFD = pickFD(f.FDs, m.SignalFDIndex)
		h.OnSetActivation(m)
	case OpGlobal:
		var m Global
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnGlobal(m)
	case OpGlobalRemove:
		var m GlobalRemove
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnGlobalRemove(m)
	case OpDone:
		var m Done
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnDone(m)
	case OpError:
		var m Error
		if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
			return err
		}
		h.OnError(m)
	default:
		return fmt.Errorf("protocol: unknown opcode %d", f.Op)
	}
	return nil
}

func putHeader(hdr []byte, f Frame) {
	binary.LittleEndian.PutUint32(hdr, uint32(len(f.Payload)))
	binary.LittleEndian.PutUint16(hdr[4:], uint16(f.Op))
	hdr[6], hdr[7] = 0, 0
}

func parseHeader(hdr []byte) (size int, op Opcode, err error) {
	size = int(binary.LittleEndian.Uint32(hdr))
	if size > MaxFrameSize {
		return 0, 0, ErrFrameTooLarge
	}
	return size, Opcode(binary.LittleEndian.Uint16(hdr[4:])), nil
}
