package shm

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sys/unix"
)

// Sentinel errors.
var (
	// ErrUnknownBlock is returned when mapping an id the server never
	// announced (or already removed).
	ErrUnknownBlock = errors.New("shm: unknown memory block")

	// ErrClosed is returned for operations on a closed pool.
	ErrClosed = errors.New("shm: pool closed")
)

// Mode selects the mapping protection.
type Mode int

const (
	// ModeRead maps the region read-only.
	ModeRead Mode = iota
	// ModeReadWrite maps the region for reading and writing.
	ModeReadWrite
)

func (m Mode) prot() int {
	if m == ModeRead {
		return unix.PROT_READ
	}
	return unix.PROT_READ | unix.PROT_WRITE
}

// Block is a server-announced memory block.
type Block struct {
	ID   uint32
	Type uint32
	FD   int
}

// Pool tracks announced memory blocks and their live mappings.
type Pool struct {
	mu       sync.Mutex
	closed   bool
	blocks   map[uint32]*Block
	mappings []*Mapping
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{blocks: make(map[uint32]*Block)}
}

// AddBlock registers a memory block. The pool takes ownership of fd.
func (p *Pool) AddBlock(id, typ uint32, fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if old, ok := p.blocks[id]; ok {
		slog.Warn("shm: replacing memory block", "id", id)
		unix.Close(old.FD)
	}
	p.blocks[id] = &Block{ID: id, Type: typ, FD: fd}
	return nil
}

// RemoveBlock forgets a block and closes its descriptor. Existing mappings
// stay valid until unmapped.
func (p *Pool) RemoveBlock(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blocks[id]
	if !ok {
		return ErrUnknownBlock
	}
	delete(p.blocks, id)
	return unix.Close(b.FD)
}

// Lookup returns the block for id, or nil.
func (p *Pool) Lookup(id uint32) *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocks[id]
}

// Mapping is a live view into a block.
type Mapping struct {
	pool *Pool
	raw  []byte // page-aligned mmap region
	data []byte // requested window into raw
	tag  []uint32
}

// Map maps size bytes of block id at offset. tag may be nil; a non-nil tag
// can later be located with FindTag.
func (p *Pool) Map(id, offset, size uint32, mode Mode, tag []uint32) (*Mapping, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	b, ok := p.blocks[id]
	if !ok {
		return nil, fmt.Errorf("shm: map id %d: %w", id, ErrUnknownBlock)
	}

	pageSize := unix.Getpagesize()
	pageOff := int64(offset) &^ int64(pageSize-1)
	skew := int(int64(offset) - pageOff)

	raw, err := unix.Mmap(b.FD, pageOff, skew+int(size), mode.prot(), unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap id %d offset %d size %d: %w", id, offset, size, err)
	}
	m := &Mapping{pool: p, raw: raw, data: raw[skew : skew+int(size)], tag: slices.Clone(tag)}
	p.mappings = append(p.mappings, m)
	return m, nil
}

// FindTag returns the first live mapping with exactly this tag, or nil.
func (p *Pool) FindTag(tag []uint32) *Mapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.mappings {
		if slices.Equal(m.tag, tag) {
			return m
		}
	}
	return nil
}

// Bytes returns the mapped window. Valid until Unmap.
func (m *Mapping) Bytes() []byte { return m.data }

// Lock pins the mapped pages into memory so the real-time path never
// faults on them. Failure is reported but callers usually treat it as a
// degraded, non-fatal condition.
func (m *Mapping) Lock() error {
	if err := unix.Mlock(m.raw); err != nil {
		return fmt.Errorf("shm: mlock: %w", err)
	}
	return nil
}

// Unmap releases the mapping. Safe to call more than once.
func (m *Mapping) Unmap() error {
	if m.raw == nil {
		return nil
	}
	raw := m.raw
	m.raw, m.data = nil, nil

	m.pool.mu.Lock()
	if i := slices.Index(m.pool.mappings, m); i >= 0 {
		m.pool.mappings = slices.Delete(m.pool.mappings, i, i+1)
	}
	m.pool.mu.Unlock()

	if err := unix.Munmap(raw); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	return nil
}

// Close unmaps everything and closes all block descriptors.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	mappings := p.mappings
	p.mappings = nil
	blocks := p.blocks
	p.blocks = map[uint32]*Block{}
	p.mu.Unlock()

	var errs []error
	for _, m := range mappings {
		if m.raw != nil {
			raw := m.raw
			m.raw, m.data = nil, nil
			if err := unix.Munmap(raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, b := range blocks {
		if err := unix.Close(b.FD); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateAnon creates an anonymous memory block of the given size, for
// in-process drivers and tests. The caller owns the returned descriptor.
func CreateAnon(name string, size int) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("shm: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("shm: ftruncate: %w", err)
	}
	return fd, nil
}
