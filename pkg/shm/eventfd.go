package shm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Wait when the descriptor is non-blocking and
// no wake is pending. Callers treat it as a zero-duration cycle.
var ErrWouldBlock = errors.New("shm: wake would block")

// Waker is the cycle wake primitive: Wait blocks until woken and returns the
// accumulated wake count (greater than 1 means missed wakeups), Wake posts n
// wakes to the peer.
type Waker interface {
	Wait() (uint64, error)
	Wake(n uint64) error
	Close() error
}

// EventFD is an eventfd-backed Waker, the descriptor type the server hands
// out for transport and activation signalling.
type EventFD struct {
	fd int
}

// NewEventFD creates a fresh eventfd pair endpoint.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shm: eventfd: %w", err)
	}
	return &EventFD{fd: fd}, nil
}

// EventFDFromFD wraps a descriptor received from the server. Takes ownership.
func EventFDFromFD(fd int) *EventFD {
	return &EventFD{fd: fd}
}

// FD returns the underlying descriptor.
func (e *EventFD) FD() int { return e.fd }

// Wait reads the wake counter, blocking when the descriptor is blocking.
func (e *EventFD) Wait() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(e.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("shm: wake read: %w", err)
	}
	if n != 8 {
		return 0, fmt.Errorf("shm: wake read: short read %d", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Wake posts n wakes to whoever waits on the descriptor.
func (e *EventFD) Wake(n uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], n)
	if _, err := unix.Write(e.fd, buf[:]); err != nil {
		return fmt.Errorf("shm: wake write: %w", err)
	}
	return nil
}

// Close closes the descriptor.
func (e *EventFD) Close() error {
	if e.fd < 0 {
		return nil
	}
	fd := e.fd
	e.fd = -1
	return unix.Close(fd)
}
