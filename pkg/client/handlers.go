package client

import (
	"log/slog"

	"github.com/arpeggia/soundbridge/pkg/activation"
	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/port"
	"github.com/arpeggia/soundbridge/pkg/protocol"
	"github.com/arpeggia/soundbridge/pkg/shm"
)

// Control messages arrive on the connection's read goroutine. Everything
// the realtime goroutine also touches is handed over through atomic
// publication, never mutated in place.

func (c *Client) OnTransport(m protocol.Transport) {
	c.nodeID.Store(m.NodeID)

	mapping, err := c.mem.Map(m.MemID, m.Offset, m.Size, shm.ModeReadWrite, nil)
	if err != nil {
		slog.Warn("client: map activation failed", "mem", m.MemID, "error", err)
		return
	}
	rec, err := activation.RecordAt(mapping.Bytes())
	if err != nil {
		slog.Warn("client: bad activation region", "error", err)
		mapping.Unmap()
		return
	}
	if err := mapping.Lock(); err != nil {
		slog.Warn("client: lock activation failed", "error", err)
	}

	next := &driverState{rec: rec, m: mapping}
	if m.ReadFD >= 0 {
		next.waker = shm.EventFDFromFD(m.ReadFD)
	}
	if m.WriteFD >= 0 {
		next.complete = shm.EventFDFromFD(m.WriteFD)
	}
	if old := c.own.Swap(next); old != nil {
		if old.m != nil {
			old.m.Unmap()
		}
		if old.waker != nil {
			old.waker.Close()
		}
		if old.complete != nil {
			old.complete.Close()
		}
	}
	slog.Debug("client: transport attached", "node", m.NodeID)
}

func (c *Client) OnSetParam(m protocol.SetParam) {
	slog.Debug("client: set param", "id", m.ID, "flags", m.Flags)
}

func (c *Client) OnSetIO(m protocol.SetIO) {
	if m.ID != protocol.IOPosition {
		slog.Debug("client: ignoring io area", "id", m.ID)
		return
	}
	if m.MemID == protocol.InvalidMem {
		if old := c.driver.Swap(nil); old != nil && old.m != nil {
			old.m.Unmap()
		}
		return
	}
	mapping, err := c.mem.Map(m.MemID, m.Offset, m.Size, shm.ModeReadWrite, nil)
	if err != nil {
		slog.Warn("client: map position failed", "mem", m.MemID, "error", err)
		return
	}
	rec, err := activation.RecordAt(mapping.Bytes())
	if err != nil {
		slog.Warn("client: bad position region", "error", err)
		mapping.Unmap()
		return
	}
	if err := mapping.Lock(); err != nil {
		slog.Warn("client: lock position failed", "error", err)
	}
	if old := c.driver.Swap(&driverState{rec: rec, m: mapping}); old != nil && old.m != nil {
		old.m.Unmap()
	}
	slog.Debug("client: position attached", "mem", m.MemID)
}

func (c *Client) OnCommand(m protocol.Command) {
	switch m.Command {
	case protocol.CommandStart:
		if own := c.own.Load(); own != nil {
			own.rec.Trigger.Reset()
		}
		c.started.Store(true)
		slog.Debug("client: started")
	case protocol.CommandPause, protocol.CommandSuspend:
		c.started.Store(false)
		slog.Debug("client: paused")
	default:
		slog.Debug("client: unknown command", "command", m.Command)
	}
}

func (c *Client) OnAddMem(m protocol.AddMem) {
	if err := c.mem.AddBlock(m.ID, m.Type, m.FD); err != nil {
		slog.Warn("client: add mem failed", "id", m.ID, "error", err)
	}
}

func (c *Client) OnRemoveMem(m protocol.RemoveMem) {
	if err := c.mem.RemoveBlock(m.ID); err != nil {
		slog.Warn("client: remove mem failed", "id", m.ID, "error", err)
	}
}

func (c *Client) OnPortSetParam(m protocol.PortSetParam) {
	p := c.localPort(m.Direction, m.PortID)
	if p == nil {
		return
	}
	if m.Format == nil {
		p.pp.ClearFormat()
		return
	}
	if got := graphobj.ParsePortType(m.Format.MediaType); got != p.typ {
		slog.Warn("client: format mismatch", "port", p.name, "media", m.Format.MediaType)
		err := c.conn.Send(protocol.NotSupported{
			Op_:     uint16(protocol.OpPortSetParam),
			Message: "unsupported media type " + m.Format.MediaType,
		})
		if err != nil {
			slog.Warn("client: not-supported reply failed", "error", err)
		}
		return
	}
	p.pp.SetFormat(m.Format.Rate)
	slog.Debug("client: port format", "port", p.name, "rate", m.Format.Rate)
}

func (c *Client) OnPortUseBuffers(m protocol.PortUseBuffers) {
	p := c.localPort(m.Direction, m.PortID)
	if p == nil {
		return
	}
	mix, err := c.pool.EnsureMix(p.pp, m.MixID)
	if err != nil {
		slog.Warn("client: ensure mix failed", "port", p.name, "error", err)
		return
	}
	descs := make([]port.BufferDesc, len(m.Buffers))
	for i, b := range m.Buffers {
		d := port.BufferDesc{MemID: b.MemID, Offset: b.Offset, Size: b.Size}
		for _, pl := range b.Planes {
			kind := port.PlaneInline
			if pl.MemRef {
				kind = port.PlaneMemRef
			}
			d.Planes = append(d.Planes, port.PlaneDesc{
				Kind:        kind,
				MemID:       pl.MemID,
				DataOffset:  pl.DataOffset,
				MaxSize:     pl.MaxSize,
				ChunkOffset: pl.ChunkOffset,
			})
		}
		descs[i] = d
	}
	if err := c.pool.AssignBuffers(c.mem, mix, p.pp.Direction(), descs); err != nil {
		slog.Warn("client: assign buffers failed", "port", p.name, "error", err)
	}
}

func (c *Client) OnPortSetIO(m protocol.PortSetIO) {
	p := c.localPort(m.Direction, m.PortID)
	if p == nil {
		return
	}
	if m.ID != protocol.IOBuffers {
		return
	}
	mix, err := c.pool.EnsureMix(p.pp, m.MixID)
	if err != nil {
		slog.Warn("client: ensure mix failed", "port", p.name, "error", err)
		return
	}
	if m.MemID == protocol.InvalidMem {
		mix.SetIO(nil, nil)
		return
	}
	mapping, err := c.mem.Map(m.MemID, m.Offset, m.Size, shm.ModeReadWrite, nil)
	if err != nil {
		slog.Warn("client: map io failed", "port", p.name, "error", err)
		return
	}
	cell, err := port.IOAt(mapping.Bytes())
	if err != nil {
		slog.Warn("client: bad io region", "port", p.name, "error", err)
		mapping.Unmap()
		return
	}
	if err := mapping.Lock(); err != nil {
		slog.Warn("client: lock io failed", "error", err)
	}
	mix.SetIO(cell, mapping)
}

func (c *Client) OnSetActivation(m protocol.SetActivation) {
	if m.NodeID == c.nodeID.Load() {
		// Our own record travels with the transport message.
		return
	}

	links := *c.links.Load()
	if m.MemID == protocol.InvalidMem {
		next := make([]peerLink, 0, len(links))
		for _, l := range links {
			if l.nodeID != m.NodeID {
				next = append(next, l)
				continue
			}
			if l.w != nil {
				l.w.Close()
			}
			if l.m != nil {
				l.m.Unmap()
			}
		}
		c.links.Store(&next)
		slog.Debug("client: peer unlinked", "node", m.NodeID)
		return
	}

	mapping, err := c.mem.Map(m.MemID, m.Offset, m.Size, shm.ModeReadWrite, nil)
	if err != nil {
		slog.Warn("client: map peer activation failed", "node", m.NodeID, "error", err)
		return
	}
	rec, err := activation.RecordAt(mapping.Bytes())
	if err != nil {
		slog.Warn("client: bad peer activation", "node", m.NodeID, "error", err)
		mapping.Unmap()
		return
	}
	if err := mapping.Lock(); err != nil {
		slog.Warn("client: lock peer activation failed", "error", err)
	}
	var w shm.Waker
	if m.SignalFD >= 0 {
		w = shm.EventFDFromFD(m.SignalFD)
	}

	next := make([]peerLink, 0, len(links)+1)
	next = append(next, links...)
	next = append(next, peerLink{nodeID: m.NodeID, rec: rec, m: mapping, w: w})
	c.links.Store(&next)
	slog.Debug("client: peer linked", "node", m.NodeID)
}

func (c *Client) OnGlobal(m protocol.Global) {
	var kind graphobj.Kind
	switch m.Kind {
	case "node":
		kind = graphobj.KindNode
	case "port":
		kind = graphobj.KindPort
	case "link":
		kind = graphobj.KindLink
	default:
		slog.Debug("client: ignoring global", "id", m.ID, "kind", m.Kind)
		return
	}
	o := c.cache.Upsert(m.ID, kind, graphobj.Properties(m.Props))
	if o == nil {
		return
	}
	switch kind {
	case graphobj.KindPort:
		if c.portChange != nil {
			c.portChange(m.ID, true)
		}
	case graphobj.KindLink:
		if c.connectCB != nil {
			c.connectCB(o.Link.SrcPort, o.Link.DstPort, true)
		}
	}
}

func (c *Client) OnGlobalRemove(m protocol.GlobalRemove) {
	o := c.cache.Remove(m.ID)
	if o == nil {
		return
	}
	switch o.Kind {
	case graphobj.KindPort:
		if c.portChange != nil {
			c.portChange(m.ID, false)
		}
	case graphobj.KindLink:
		if c.connectCB != nil {
			c.connectCB(o.Link.SrcPort, o.Link.DstPort, false)
		}
	}
}

func (c *Client) OnDone(m protocol.Done) {
	c.mu.Lock()
	if m.Seq > c.lastDone {
		c.lastDone = m.Seq
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Client) OnError(m protocol.Error) {
	slog.Warn("client: server error", "id", m.ID, "res", m.Res, "message", m.Message)
}

// localPort resolves a (direction, pool id) pair from a server message to
// one of our registered ports.
func (c *Client) localPort(dir, id uint32) *Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.ports[portKey(port.Direction(dir), id)]
	if p == nil {
		slog.Debug("client: message for unknown port", "dir", dir, "id", id)
	}
	return p
}

func portKey(dir port.Direction, id uint32) uint32 {
	return uint32(dir)<<16 | id
}
