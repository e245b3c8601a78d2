package client

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"unsafe"

	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/midi"
	"github.com/arpeggia/soundbridge/pkg/port"
	"github.com/arpeggia/soundbridge/pkg/protocol"
)

// Port errors.
var (
	// ErrPortExists is returned when registering a duplicate port name.
	ErrPortExists = errors.New("client: port name taken")

	// ErrUnknownPort is returned when a name resolves to nothing.
	ErrUnknownPort = errors.New("client: unknown port")

	// ErrWrongDirection is returned for buffer calls that do not match
	// the port.
	ErrWrongDirection = errors.New("client: wrong port direction")

	// ErrAliasesFull is returned when both alias slots are taken.
	ErrAliasesFull = errors.New("client: no free alias slot")
)

// Port is a local port owned by this client.
type Port struct {
	c     *Client
	pp    *port.Port
	short string
	name  string // client-qualified, "name:short"
	typ   graphobj.PortType
	flags uint32
	alias [2]string

	midiBuf midi.Buffer
	fetched bool
}

// Name returns the fully qualified port name.
func (p *Port) Name() string { return p.name }

// ShortName returns the name without the client prefix.
func (p *Port) ShortName() string { return p.short }

// Type returns the port's media type.
func (p *Port) Type() graphobj.PortType { return p.typ }

// Flags returns the port flag bits.
func (p *Port) Flags() uint32 { return p.flags }

// Aliases returns the currently set aliases.
func (p *Port) Aliases() []string {
	var out []string
	for _, a := range p.alias {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func portDirection(flags uint32) (port.Direction, error) {
	in := flags&graphobj.PortIsInput != 0
	out := flags&graphobj.PortIsOutput != 0
	if in == out {
		return 0, fmt.Errorf("client: port must be input or output, flags %#x", flags)
	}
	if in {
		return port.Input, nil
	}
	return port.Output, nil
}

func (p *Port) props() map[string]string {
	props := map[string]string{
		"port.name":      p.short,
		"port.direction": p.pp.Direction().String(),
		"format.dsp":     p.typ.String(),
	}
	if p.flags&graphobj.PortIsPhysical != 0 {
		props["port.physical"] = "true"
	}
	if p.flags&graphobj.PortIsTerminal != 0 {
		props["port.terminal"] = "true"
	}
	if p.flags&graphobj.PortCanMonitor != 0 {
		props["port.monitor"] = "true"
	}
	if p.typ == graphobj.PortTypeMIDI {
		props["port.control"] = "true"
	}
	if p.alias[0] != "" {
		props["object.path"] = p.alias[0]
	}
	if p.alias[1] != "" {
		props["port.alias"] = p.alias[1]
	}
	return props
}

// RegisterPort creates a local port and announces it to the server. flags
// must carry exactly one of PortIsInput/PortIsOutput.
func (c *Client) RegisterPort(name string, typ graphobj.PortType, flags uint32) (*Port, error) {
	dir, err := portDirection(flags)
	if err != nil {
		return nil, err
	}

	full := c.name + ":" + name

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	for _, existing := range c.ports {
		if existing.short == name {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrPortExists, full)
		}
	}
	pp, err := c.pool.AllocPort(dir)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	p := &Port{c: c, pp: pp, short: name, name: full, typ: typ, flags: flags}
	c.ports[portKey(dir, pp.ID())] = p
	c.publishPortsLocked()
	c.mu.Unlock()

	if dir == port.Output {
		// The produce mix exists up front so buffer assignment for
		// the own stream has a home.
		if _, err := c.pool.EnsureMix(pp, port.OwnMix); err != nil {
			c.dropPort(p)
			return nil, err
		}
	}

	if err := c.conn.Send(protocol.PortUpdate{
		Direction: uint32(dir),
		PortID:    pp.ID(),
		Change:    protocol.PortAdded,
		Props:     p.props(),
	}); err != nil {
		c.dropPort(p)
		return nil, fmt.Errorf("client: register port: %w", err)
	}
	if err := c.roundTrip(); err != nil {
		c.dropPort(p)
		return nil, err
	}
	slog.Info("client: port registered", "port", full, "type", typ.String())
	return p, nil
}

func (c *Client) dropPort(p *Port) {
	c.mu.Lock()
	delete(c.ports, portKey(p.pp.Direction(), p.pp.ID()))
	c.pool.ReleasePort(p.pp)
	c.publishPortsLocked()
	c.mu.Unlock()
}

// publishPortsLocked rebuilds the engine-visible port slice. Caller holds mu.
func (c *Client) publishPortsLocked() {
	next := make([]*Port, 0, len(c.ports))
	for _, p := range c.ports {
		next = append(next, p)
	}
	c.localPorts.Store(&next)
}

// UnregisterPort retracts the port from the server and recycles its slot.
func (c *Client) UnregisterPort(p *Port) error {
	if p == nil || p.c != c {
		return ErrUnknownPort
	}
	dir, id := p.pp.Direction(), p.pp.ID()
	if err := c.conn.Send(protocol.PortUpdate{
		Direction: uint32(dir),
		PortID:    id,
		Change:    protocol.PortRemoved,
	}); err != nil {
		return fmt.Errorf("client: unregister port: %w", err)
	}
	err := c.roundTrip()
	c.dropPort(p)
	slog.Info("client: port unregistered", "port", p.name)
	return err
}

func (c *Client) republish(p *Port) error {
	if err := c.conn.Send(protocol.PortUpdate{
		Direction: uint32(p.pp.Direction()),
		PortID:    p.pp.ID(),
		Change:    protocol.PortRenamed,
		Props:     p.props(),
	}); err != nil {
		return fmt.Errorf("client: update port: %w", err)
	}
	return c.roundTrip()
}

// RenamePort changes the port's short name.
func (c *Client) RenamePort(p *Port, name string) error {
	if p == nil || p.c != c {
		return ErrUnknownPort
	}
	old := p.name
	p.short = name
	p.name = c.name + ":" + name
	if err := c.republish(p); err != nil {
		return err
	}
	slog.Info("client: port renamed", "old", old, "new", p.name)
	return nil
}

// SetPortAlias adds an alias in the first free of the two slots.
func (c *Client) SetPortAlias(p *Port, alias string) error {
	if p == nil || p.c != c {
		return ErrUnknownPort
	}
	switch {
	case p.alias[0] == "" || p.alias[0] == alias:
		p.alias[0] = alias
	case p.alias[1] == "" || p.alias[1] == alias:
		p.alias[1] = alias
	default:
		return ErrAliasesFull
	}
	return c.republish(p)
}

// UnsetPortAlias removes a previously set alias.
func (c *Client) UnsetPortAlias(p *Port, alias string) error {
	if p == nil || p.c != c {
		return ErrUnknownPort
	}
	switch alias {
	case p.alias[0]:
		p.alias[0] = ""
	case p.alias[1]:
		p.alias[1] = ""
	default:
		return ErrUnknownPort
	}
	return c.republish(p)
}

// resolvePort maps a qualified name or alias to a registry object.
func (c *Client) resolvePort(name string) (*graphobj.Object, error) {
	o := c.cache.FindPortByName(name)
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPort, name)
	}
	return o, nil
}

// Connect asks the server to link two ports by name. The source must be
// an output, the destination an input.
func (c *Client) Connect(src, dst string) error {
	so, err := c.resolvePort(src)
	if err != nil {
		return err
	}
	do, err := c.resolvePort(dst)
	if err != nil {
		return err
	}
	if so.Port.Flags&graphobj.PortIsOutput == 0 || do.Port.Flags&graphobj.PortIsInput == 0 {
		return fmt.Errorf("client: connect %s -> %s: %w", src, dst, ErrWrongDirection)
	}
	if err := c.conn.Send(protocol.Link{SrcPort: so.ID, DstPort: do.ID}); err != nil {
		return fmt.Errorf("client: connect: %w", err)
	}
	return c.roundTrip()
}

// Disconnect asks the server to remove the link between two ports.
func (c *Client) Disconnect(src, dst string) error {
	so, err := c.resolvePort(src)
	if err != nil {
		return err
	}
	do, err := c.resolvePort(dst)
	if err != nil {
		return err
	}
	if c.cache.FindLink(so.ID, do.ID) == nil {
		return fmt.Errorf("client: not connected: %s -> %s", src, dst)
	}
	if err := c.conn.Send(protocol.Unlink{SrcPort: so.ID, DstPort: do.ID}); err != nil {
		return fmt.Errorf("client: disconnect: %w", err)
	}
	return c.roundTrip()
}

// DisconnectAll removes every link touching the named port.
func (c *Client) DisconnectAll(name string) error {
	o, err := c.resolvePort(name)
	if err != nil {
		return err
	}
	var firstErr error
	for l := range c.cache.Links() {
		if l.Link.SrcPort != o.ID && l.Link.DstPort != o.ID {
			continue
		}
		err := c.conn.Send(protocol.Unlink{SrcPort: l.Link.SrcPort, DstPort: l.Link.DstPort})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("client: disconnect all: %w", firstErr)
	}
	return c.roundTrip()
}

// Ports lists registry port names matching the filters. namePattern and
// typ are regular expressions over the qualified name and media type; an
// empty pattern matches everything. flags keeps only ports carrying all
// the given bits. A node restriction from the configuration narrows the
// listing to ports owned by that node.
func (c *Client) Ports(namePattern, typPattern string, flags uint32) ([]string, error) {
	var nameRe, typRe *regexp.Regexp
	var err error
	if namePattern != "" {
		if nameRe, err = regexp.Compile(namePattern); err != nil {
			return nil, fmt.Errorf("client: bad port pattern: %w", err)
		}
	}
	if typPattern != "" {
		if typRe, err = regexp.Compile(typPattern); err != nil {
			return nil, fmt.Errorf("client: bad type pattern: %w", err)
		}
	}
	var out []string
	for o := range c.cache.Ports() {
		if c.cfg.NodeName != "" && !c.ownedByNode(o.Port.NodeID, c.cfg.NodeName) {
			continue
		}
		if o.Port.Flags&flags != flags {
			continue
		}
		if nameRe != nil && !nameRe.MatchString(o.Port.Name) &&
			!nameRe.MatchString(o.Port.Alias1) && !nameRe.MatchString(o.Port.Alias2) {
			continue
		}
		if typRe != nil && !typRe.MatchString(o.Port.Type.String()) {
			continue
		}
		out = append(out, o.Port.Name)
	}
	return out, nil
}

// ownedByNode reports whether nodeID is the node named by want, matched
// against the registry id or the node name.
func (c *Client) ownedByNode(nodeID uint32, want string) bool {
	if strconv.FormatUint(uint64(nodeID), 10) == want {
		return true
	}
	o := c.cache.Lookup(nodeID)
	return o != nil && o.Kind == graphobj.KindNode && o.Node.Name == want
}

// PortInfo returns the registry object for a port name.
func (c *Client) PortInfo(name string) (*graphobj.Object, error) {
	return c.resolvePort(name)
}

// Connections lists the qualified names of every port linked to name.
func (c *Client) Connections(name string) ([]string, error) {
	o, err := c.resolvePort(name)
	if err != nil {
		return nil, err
	}
	var out []string
	for l := range c.cache.Links() {
		var peerID uint32
		switch o.ID {
		case l.Link.SrcPort:
			peerID = l.Link.DstPort
		case l.Link.DstPort:
			peerID = l.Link.SrcPort
		default:
			continue
		}
		if peer := c.cache.Lookup(peerID); peer != nil && peer.Kind == graphobj.KindPort {
			out = append(out, peer.Port.Name)
		}
	}
	return out, nil
}

// AudioBuffer returns the port's sample data for the running cycle. Input
// ports get their summed sources, output ports a writable plane. Only
// valid inside the process callback or a CycleWait/CycleSignal pair.
func (p *Port) AudioBuffer(frames uint32) []float32 {
	c := p.c
	p.fetched = true
	if p.pp.Direction() == port.Input {
		out := port.InputFloats(c.pool, p.pp, frames)
		if out == nil {
			p.pp.ResetFallback(frames)
			out = p.pp.EmptyFloats()[:frames]
		}
		return out
	}
	raw := port.OutputAudio(c.pool, p.pp, frames, 4)
	if raw == nil {
		p.pp.ResetFallback(frames)
		return p.pp.EmptyFloats()[:frames]
	}
	n := int(frames)
	if n*4 > len(raw) {
		n = len(raw) / 4
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(raw))), n)
}

// RawBuffer returns the port's plane as raw bytes, for video and opaque
// formats. Input ports see the first connection's data; output chunks
// are stamped byte-sized.
func (p *Port) RawBuffer(frames uint32) []byte {
	c := p.c
	p.fetched = true
	if p.pp.Direction() == port.Input {
		if out := port.InputBytes(c.pool, p.pp); out != nil {
			return out
		}
		p.pp.ResetFallback(frames)
		return p.pp.EmptyBytes()
	}
	raw := port.OutputAudio(c.pool, p.pp, frames, 1)
	if raw == nil {
		p.pp.ResetFallback(frames)
		return p.pp.EmptyBytes()
	}
	return raw
}

// MIDIBuffer returns the port's event buffer for the running cycle. For
// input ports every connected sequence arrives merged in time order; for
// output ports the buffer is empty and accepts writes, and is encoded to
// the wire when the cycle completes.
func (p *Port) MIDIBuffer(frames uint32) (midi.Buffer, error) {
	c := p.c
	p.fetched = true
	if p.pp.Direction() == port.Input {
		raw := port.InputMIDI(c.pool, p.pp, frames)
		if raw == nil {
			return midi.Buffer{}, midi.ErrNotInitialized
		}
		return midi.At(raw)
	}
	buf, err := midi.Init(p.pp.EmptyBytes(), frames)
	if err != nil {
		return midi.Buffer{}, err
	}
	p.midiBuf = buf
	return buf, nil
}
