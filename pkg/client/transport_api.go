package client

import (
	"github.com/arpeggia/soundbridge/pkg/activation"
	"github.com/arpeggia/soundbridge/pkg/transport"
)

// TransportState snapshots the transport. The read retries until generation
// markers agree, so the returned position is never torn.
func (c *Client) TransportState() (transport.State, transport.Position, error) {
	ds := c.driver.Load()
	if ds == nil {
		return transport.Stopped, transport.Position{}, ErrNoTransport
	}
	var pos transport.Position
	var state transport.State
	for {
		state = transport.FromActivation(ds.rec, &pos)
		if pos.Consistent() {
			return state, pos, nil
		}
	}
}

// TransportStart asks the driver to roll.
func (c *Client) TransportStart() error {
	ds := c.driver.Load()
	if ds == nil {
		return ErrNoTransport
	}
	transport.RequestStart(ds.rec)
	return nil
}

// TransportStop asks the driver to halt.
func (c *Client) TransportStop() error {
	ds := c.driver.Load()
	if ds == nil {
		return ErrNoTransport
	}
	transport.RequestStop(ds.rec)
	return nil
}

// TransportLocate relocates the transport to an absolute frame. Playback
// continues in the current run state.
func (c *Client) TransportLocate(frame uint32) error {
	ds := c.driver.Load()
	own := c.own.Load()
	if ds == nil || own == nil {
		return ErrNoTransport
	}
	transport.RequestReposition(ds.rec, own.rec, c.nodeID.Load(), frame)
	return nil
}

// TransportReposition relocates with full musical position data. The bar
// fields are carried to the driver and picked up by the timebase master.
func (c *Client) TransportReposition(pos *transport.Position) error {
	ds := c.driver.Load()
	own := c.own.Load()
	if ds == nil || own == nil {
		return ErrNoTransport
	}
	seg := &own.rec.Reposition
	seg.Version++
	seg.Start = 0
	seg.Duration = 0
	seg.Rate = 1.0
	seg.Position = uint64(pos.Frame)
	if pos.Valid&transport.PositionBBT != 0 {
		seg.Bar.Flags = activation.BarFlagValid
		seg.Bar.Offset = pos.BBTOffset
		seg.Bar.SignatureNum = pos.BeatsPerBar
		seg.Bar.SignatureDenom = pos.BeatType
		seg.Bar.BPM = pos.BPM
		seg.Bar.Beat = float64(pos.Bar-1)*pos.BeatsPerBar +
			float64(pos.Beat-1) + float64(pos.Tick)/pos.TicksPerBeat
	} else {
		seg.Bar.Flags = 0
	}
	ds.rec.RepositionOwner.Store(c.nodeID.Load())
	return nil
}

// CurrentTransportFrame estimates the frame the transport is at right now,
// extrapolated from the last cycle's clock while rolling.
func (c *Client) CurrentTransportFrame() (uint32, error) {
	ds := c.driver.Load()
	if ds == nil {
		return 0, ErrNoTransport
	}
	return transport.CurrentFrame(ds.rec, c.sampleRate.Load(), nowNsec()), nil
}

// SetTimebase installs fn as the timebase master. With conditional set the
// call fails when another node already owns the timebase; otherwise the
// ownership is taken over.
func (c *Client) SetTimebase(conditional bool, fn TimebaseFunc) error {
	ds := c.driver.Load()
	if ds == nil {
		return ErrNoTransport
	}
	if err := transport.AcquireTimebase(ds.rec, c.nodeID.Load(), conditional); err != nil {
		return err
	}
	c.timebaseCB.Store(&fn)
	return nil
}

// ReleaseTimebase gives up timebase ownership.
func (c *Client) ReleaseTimebase() error {
	ds := c.driver.Load()
	if ds == nil {
		return ErrNoTransport
	}
	c.timebaseCB.Store(nil)
	return transport.ReleaseTimebase(ds.rec, c.nodeID.Load())
}

// SetSync installs the transport sync voter. Unlike the static callbacks
// this may change while the client is active.
func (c *Client) SetSync(fn SyncFunc) {
	if fn == nil {
		c.syncCB.Store(nil)
		return
	}
	c.syncCB.Store(&fn)
}

// SetSyncTimeout publishes how long the driver may wait for this client's
// sync vote, in microseconds.
func (c *Client) SetSyncTimeout(usec uint64) error {
	own := c.own.Load()
	if own == nil {
		return ErrNoTransport
	}
	own.rec.SyncTimeout.Store(usec * 1000)
	return nil
}

// XRuns returns the driver's overrun counter.
func (c *Client) XRuns() (uint32, error) {
	ds := c.driver.Load()
	if ds == nil {
		return 0, ErrNoTransport
	}
	return ds.rec.XRunCount.Load(), nil
}
