package client

import (
	"errors"
	"log/slog"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/arpeggia/soundbridge/pkg/activation"
	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/port"
	"github.com/arpeggia/soundbridge/pkg/shm"
	"github.com/arpeggia/soundbridge/pkg/transport"
)

func nowNsec() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}

// runEngine is the realtime goroutine. It stays pinned to one OS thread
// and never allocates on the cycle path.
func (c *Client) runEngine() {
	defer c.engineWG.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if c.threadInit != nil {
		c.threadInit()
	}
	if fn := c.processThread; fn != nil {
		// The application owns the cycle loop. It drives cycles with
		// CycleWait and CycleSignal and the engine stays out of the way
		// until the function returns.
		fn()
		return
	}

	for !c.engineStop.Load() {
		own := c.own.Load()
		if own == nil || own.waker == nil {
			return
		}
		n, err := own.waker.Wait()
		if err != nil {
			if errors.Is(err, shm.ErrWouldBlock) {
				continue
			}
			if !c.engineStop.Load() {
				slog.Warn("client: wake wait failed", "error", err)
			}
			return
		}
		if c.engineStop.Load() {
			return
		}
		if n > 1 {
			// The kernel folded several wake signals into one read.
			c.missed.Add(n - 1)
		}
		c.runCycle()
	}
}

func (c *Client) runCycle() {
	own := c.own.Load()
	if own == nil {
		return
	}
	rec := own.rec
	rec.Status.Store(activation.StatusAwake)
	rec.AwakeTime.Store(nowNsec())

	frames := c.cycleBegin(rec)

	if frames > 0 && c.started.Load() {
		rec.Status.Store(activation.StatusRunning)
		c.beginPortCycle()
		if c.process != nil {
			c.process(frames)
		}
		c.flushOutputs(frames)
	}

	c.cycleSignal(rec)
}

// cycleBegin reads the driver clock and runs the pre-process duties:
// quantum and rate change notification, sync voting, timebase write-back
// and xrun observation. Returns 0 when no position source is attached,
// which turns the cycle into a pure completion.
func (c *Client) cycleBegin(rec *activation.Record) uint32 {
	ds := c.driver.Load()
	if ds == nil {
		return 0
	}
	drv := ds.rec

	frames := uint32(drv.Position.Clock.Duration)
	rate := drv.Position.Clock.RateDenom

	if old := c.bufferFrames.Swap(frames); old != frames && c.bufferCB != nil {
		c.bufferCB(frames)
	}
	if old := c.sampleRate.Swap(rate); old != rate && c.rateCB != nil {
		c.rateCB(rate)
	}

	if xruns := drv.XRunCount.Load(); xruns != c.xrunSeen {
		c.xrunSeen = xruns
		if c.xrunCB != nil {
			c.xrunCB()
		}
	}

	if fn := c.syncCB.Load(); fn != nil && rec.PendingSync.Load() != 0 {
		state := transport.FromActivation(drv, &c.curPos)
		if (*fn)(state, &c.curPos) {
			rec.PendingSync.Store(0)
		}
	}

	if fn := c.timebaseCB.Load(); fn != nil &&
		drv.SegmentOwner[0].Load() == c.nodeID.Load() {
		newPos := drv.PendingNewPos.Load() != 0
		state := transport.FromActivation(drv, &c.curPos)
		if state == transport.Rolling || state == transport.Looping || newPos {
			(*fn)(state, frames, &c.curPos, newPos)
			transport.ApplyPosition(&c.curPos, drv)
		}
		if newPos {
			drv.PendingNewPos.Store(0)
		}
	}

	return frames
}

// beginPortCycle clears per-cycle port state so stale buffers are never
// handed out.
func (c *Client) beginPortCycle() {
	ports := c.localPorts.Load()
	if ports == nil {
		return
	}
	for _, p := range *ports {
		p.fetched = false
	}
}

// flushOutputs finalizes output ports after the process callback. MIDI
// ports convert their event buffer to the wire sequence in place; audio
// ports were written directly into the dequeued plane and only need the
// ones never fetched to stay silent.
func (c *Client) flushOutputs(frames uint32) {
	ports := c.localPorts.Load()
	if ports == nil {
		return
	}
	for _, p := range *ports {
		if p.pp.Direction() != port.Output || !p.fetched {
			continue
		}
		if p.typ == graphobj.PortTypeMIDI {
			if err := port.OutputControl(c.pool, p.pp, p.midiBuf); err != nil {
				slog.Debug("client: encode midi failed", "port", p.name, "error", err)
			}
		}
	}
}

// cycleSignal completes the cycle: stamp the finish time and wake every
// downstream node whose trigger count reached zero.
func (c *Client) cycleSignal(rec *activation.Record) {
	now := nowNsec()
	rec.FinishTime.Store(now)
	rec.Status.Store(activation.StatusFinished)

	links := c.links.Load()
	if links == nil {
		return
	}
	for i := range *links {
		l := &(*links)[i]
		if !l.rec.Trigger.Dec() {
			continue
		}
		l.rec.Status.Store(activation.StatusTriggered)
		l.rec.SignalTime.Store(now)
		if l.w != nil {
			if err := l.w.Wake(1); err != nil && !errors.Is(err, shm.ErrWouldBlock) {
				slog.Warn("client: peer wake failed", "node", l.nodeID, "error", err)
			}
		}
	}
}

// CycleWait blocks until the server hands the client a cycle and returns
// the quantum. For applications that drive the cycle from their own
// goroutine instead of installing a process callback; must be paired with
// CycleSignal.
func (c *Client) CycleWait() (uint32, error) {
	own := c.own.Load()
	if own == nil || own.waker == nil {
		return 0, ErrNotActive
	}
	for {
		n, err := own.waker.Wait()
		if err != nil {
			if errors.Is(err, shm.ErrWouldBlock) {
				continue
			}
			return 0, err
		}
		if c.engineStop.Load() {
			return 0, ErrNotActive
		}
		if n > 1 {
			c.missed.Add(n - 1)
		}
		own.rec.Status.Store(activation.StatusAwake)
		own.rec.AwakeTime.Store(nowNsec())
		frames := c.cycleBegin(own.rec)
		c.beginPortCycle()
		return frames, nil
	}
}

// CycleSignal completes a cycle begun with CycleWait.
func (c *Client) CycleSignal(frames uint32) {
	own := c.own.Load()
	if own == nil {
		return
	}
	c.flushOutputs(frames)
	c.cycleSignal(own.rec)
}
