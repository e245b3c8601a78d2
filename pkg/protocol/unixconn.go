package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// maxFDsPerFrame matches the ancillary buffer we post on every receive.
const maxFDsPerFrame = 16

// unixFramer carries frames over a SOCK_STREAM unix socket. Descriptors
// travel as SCM_RIGHTS ancillary data on the header write, so a frame's
// descriptors always arrive with its header.
type unixFramer struct {
	conn *net.UnixConn
}

// DialUnix connects to the server's control socket.
func DialUnix(path string) (*Conn, error) {
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	uc, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %s: %w", path, err)
	}
	return &Conn{fr: &unixFramer{conn: uc}}, nil
}

// NewUnixConn wraps an existing unix socket, e.g. one end of a socketpair.
func NewUnixConn(uc *net.UnixConn) *Conn {
	return &Conn{fr: &unixFramer{conn: uc}}
}

func (u *unixFramer) WriteFrame(f Frame) error {
	var hdr [frameHeaderSize]byte
	putHeader(hdr[:], f)

	var oob []byte
	if len(f.FDs) > 0 {
		oob = unix.UnixRights(f.FDs...)
	}
	if _, _, err := u.conn.WriteMsgUnix(hdr[:], oob, nil); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := u.conn.Write(f.Payload); err != nil {
			return fmt.Errorf("protocol: write payload: %w", err)
		}
	}
	return nil
}

func (u *unixFramer) ReadFrame() (Frame, error) {
	var hdr [frameHeaderSize]byte
	oob := make([]byte, unix.CmsgSpace(maxFDsPerFrame*4))

	n, oobn, _, _, err := u.conn.ReadMsgUnix(hdr[:], oob)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Frame{}, ErrClosed
		}
		return Frame{}, err
	}
	if n == 0 {
		return Frame{}, io.EOF
	}
	if n < frameHeaderSize {
		if _, err := io.ReadFull(u.conn, hdr[n:]); err != nil {
			return Frame{}, fmt.Errorf("protocol: short header: %w", err)
		}
	}

	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return Frame{}, fmt.Errorf("protocol: parse control message: %w", err)
		}
		for _, cm := range cmsgs {
			got, err := unix.ParseUnixRights(&cm)
			if err != nil {
				continue
			}
			fds = append(fds, got...)
		}
	}

	size, op, err := parseHeader(hdr[:])
	if err != nil {
		closeAll(fds)
		return Frame{}, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(u.conn, payload); err != nil {
		closeAll(fds)
		return Frame{}, fmt.Errorf("protocol: read payload: %w", err)
	}
	return Frame{Op: op, Payload: payload, FDs: fds}, nil
}

func (u *unixFramer) Close() error {
	return u.conn.Close()
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
