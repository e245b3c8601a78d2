package client

import (
	"sync"
	"testing"

	"github.com/arpeggia/soundbridge/pkg/activation"
	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/port"
	"github.com/arpeggia/soundbridge/pkg/shm"
	"github.com/arpeggia/soundbridge/pkg/transport"
)

// fakeWaker is an in-process Waker for driving cycles without eventfds.
type fakeWaker struct {
	mu    sync.Mutex
	woken int
	ch    chan uint64
}

func newFakeWaker() *fakeWaker {
	return &fakeWaker{ch: make(chan uint64, 16)}
}

func (f *fakeWaker) Wait() (uint64, error) {
	n, ok := <-f.ch
	if !ok {
		return 0, shm.ErrWouldBlock
	}
	return n, nil
}

func (f *fakeWaker) Wake(n uint64) error {
	f.mu.Lock()
	f.woken++
	f.mu.Unlock()
	select {
	case f.ch <- n:
		return nil
	default:
		return shm.ErrWouldBlock
	}
}

func (f *fakeWaker) Close() error { return nil }

func (f *fakeWaker) wokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.woken
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	Init()
	c := &Client{
		name:  "test",
		pool:  port.NewPool(),
		mem:   shm.NewPool(),
		cache: graphobj.NewCache(),
		ports: make(map[uint32]*Port),
	}
	c.cond = sync.NewCond(&c.mu)
	empty := []peerLink{}
	c.links.Store(&empty)
	c.own.Store(&driverState{rec: activation.NewRecord()})
	return c
}

func attachDriver(c *Client, frames uint32, rate uint32) *activation.Record {
	drv := activation.NewRecord()
	drv.Position.Clock.Duration = uint64(frames)
	drv.Position.Clock.RateDenom = rate
	drv.Position.NSegments = 1
	seg := drv.ActiveSegment()
	seg.Rate = 1.0
	c.driver.Store(&driverState{rec: drv})
	return drv
}

func TestCycleRunsProcess(t *testing.T) {
	c := newTestClient(t)
	attachDriver(c, 256, 48000)
	c.started.Store(true)

	var got []uint32
	c.process = func(frames uint32) { got = append(got, frames) }

	c.runCycle()
	c.runCycle()

	if len(got) != 2 || got[0] != 256 || got[1] != 256 {
		t.Fatalf("process calls = %v", got)
	}
	own := c.own.Load().rec
	if s := own.Status.Load(); s != activation.StatusFinished {
		t.Errorf("status = %d", s)
	}
	if own.FinishTime.Load() == 0 {
		t.Errorf("finish time not stamped")
	}
}

func TestCycleWithoutPositionSkipsProcess(t *testing.T) {
	c := newTestClient(t)
	c.started.Store(true)

	called := false
	c.process = func(uint32) { called = true }

	// A downstream peer must still be released even when we have no
	// position source and do no work.
	peer := activation.NewRecord()
	peer.Trigger.Required.Store(1)
	peer.Trigger.Reset()
	w := newFakeWaker()
	links := []peerLink{{nodeID: 9, rec: peer, w: w}}
	c.links.Store(&links)

	c.runCycle()

	if called {
		t.Fatal("process ran without a position source")
	}
	if s := c.own.Load().rec.Status.Load(); s != activation.StatusFinished {
		t.Errorf("status = %d", s)
	}
	if s := peer.Status.Load(); s != activation.StatusTriggered {
		t.Errorf("peer status = %d", s)
	}
	if w.wokenCount() != 1 {
		t.Errorf("peer woken %d times", w.wokenCount())
	}
}

func TestCyclePeerNotWokenUntilLastTrigger(t *testing.T) {
	c := newTestClient(t)
	attachDriver(c, 128, 48000)
	c.started.Store(true)

	peer := activation.NewRecord()
	peer.Trigger.Required.Store(2)
	peer.Trigger.Reset()
	w := newFakeWaker()
	links := []peerLink{{nodeID: 3, rec: peer, w: w}}
	c.links.Store(&links)

	c.runCycle()
	if w.wokenCount() != 0 {
		t.Fatalf("peer woken with %d triggers pending", peer.Trigger.Pending.Load())
	}
	// The second producer finishing is simulated by another decrement.
	c.runCycle()
	if w.wokenCount() != 1 {
		t.Errorf("peer woken %d times", w.wokenCount())
	}
}

func TestCycleChangeCallbacksFireOncePerChange(t *testing.T) {
	c := newTestClient(t)
	drv := attachDriver(c, 128, 44100)
	c.started.Store(true)
	c.process = func(uint32) {}

	var bufCalls, rateCalls []uint32
	c.bufferCB = func(f uint32) { bufCalls = append(bufCalls, f) }
	c.rateCB = func(r uint32) { rateCalls = append(rateCalls, r) }

	c.runCycle()
	c.runCycle()
	drv.Position.Clock.Duration = 512
	c.runCycle()
	c.runCycle()

	if len(bufCalls) != 2 || bufCalls[0] != 128 || bufCalls[1] != 512 {
		t.Errorf("buffer frames calls = %v", bufCalls)
	}
	if len(rateCalls) != 1 || rateCalls[0] != 44100 {
		t.Errorf("rate calls = %v", rateCalls)
	}
	if c.BufferFrames() != 512 || c.SampleRate() != 44100 {
		t.Errorf("cached quantum = %d rate = %d", c.BufferFrames(), c.SampleRate())
	}
}

func TestCycleNotStartedSkipsProcess(t *testing.T) {
	c := newTestClient(t)
	attachDriver(c, 256, 48000)

	called := false
	c.process = func(uint32) { called = true }

	c.runCycle()
	if called {
		t.Fatal("process ran while paused")
	}
	if s := c.own.Load().rec.Status.Load(); s != activation.StatusFinished {
		t.Errorf("status = %d", s)
	}
}

func TestCycleSyncVote(t *testing.T) {
	c := newTestClient(t)
	attachDriver(c, 256, 48000)
	c.started.Store(true)
	own := c.own.Load().rec
	own.PendingSync.Store(1)

	ready := false
	c.SetSync(func(state transport.State, pos *transport.Position) bool {
		return ready
	})

	c.runCycle()
	if own.PendingSync.Load() != 1 {
		t.Fatal("pending sync cleared before the application was ready")
	}
	ready = true
	c.runCycle()
	if own.PendingSync.Load() != 0 {
		t.Fatal("pending sync not cleared")
	}
}

func TestCycleTimebaseWriteBack(t *testing.T) {
	c := newTestClient(t)
	c.nodeID.Store(5)
	drv := attachDriver(c, 256, 48000)
	drv.Position.State = activation.PositionRunning
	c.started.Store(true)

	if err := transport.AcquireTimebase(drv, 5, true); err != nil {
		t.Fatalf("acquire timebase: %v", err)
	}
	var calls int
	c.timebaseCB.Store(ptrTimebase(func(state transport.State, frames uint32, pos *transport.Position, newPos bool) {
		calls++
		pos.Valid |= transport.PositionBBT
		pos.Bar, pos.Beat, pos.Tick = 3, 2, 0
		pos.BeatsPerBar, pos.BeatType = 4, 4
		pos.TicksPerBeat = transport.TicksPerBeat
		pos.BPM = 120
	}))

	c.runCycle()

	if calls != 1 {
		t.Fatalf("timebase calls = %d", calls)
	}
	bar := drv.ActiveSegment().Bar
	if bar.Flags&activation.BarFlagValid == 0 {
		t.Fatal("bar data not published")
	}
	if bar.BPM != 120 || bar.Beat != 9 { // (3-1)*4 + (2-1)
		t.Errorf("bar = %+v", bar)
	}
}

func TestCycleTimebaseClearsPendingNewPos(t *testing.T) {
	c := newTestClient(t)
	c.nodeID.Store(7)
	drv := attachDriver(c, 256, 48000)
	c.started.Store(true)

	if err := transport.AcquireTimebase(drv, 7, false); err != nil {
		t.Fatalf("acquire timebase: %v", err)
	}
	drv.PendingNewPos.Store(1)

	var sawNewPos bool
	c.timebaseCB.Store(ptrTimebase(func(_ transport.State, _ uint32, _ *transport.Position, newPos bool) {
		sawNewPos = newPos
	}))

	// Transport stopped: the callback still runs for the relocation.
	c.runCycle()
	if !sawNewPos {
		t.Fatal("relocation not delivered")
	}
	if drv.PendingNewPos.Load() != 0 {
		t.Fatal("pending relocation not consumed")
	}
}

func TestCycleXRunCallback(t *testing.T) {
	c := newTestClient(t)
	drv := attachDriver(c, 256, 48000)
	c.started.Store(true)

	var xruns int
	c.xrunCB = func() { xruns++ }

	c.runCycle()
	drv.XRunCount.Add(1)
	c.runCycle()
	c.runCycle()
	if xruns != 1 {
		t.Errorf("xrun calls = %d", xruns)
	}
}

func TestEngineCountsMissedWakeups(t *testing.T) {
	c := newTestClient(t)
	attachDriver(c, 64, 48000)
	c.started.Store(true)
	cycles := make(chan struct{}, 4)
	c.process = func(uint32) { cycles <- struct{}{} }

	w := newFakeWaker()
	c.own.Store(&driverState{rec: c.own.Load().rec, waker: w})

	c.engineWG.Add(1)
	go c.runEngine()

	w.ch <- 1
	w.ch <- 3 // two signals arrived before the cycle was picked up
	<-cycles
	<-cycles
	c.engineStop.Store(true)
	close(w.ch)
	c.engineWG.Wait()

	if got := c.MissedWakeups(); got != 2 {
		t.Errorf("missed wakeups = %d", got)
	}
}

func TestStopEngineUnblocksWaitingEngine(t *testing.T) {
	c := newTestClient(t)
	attachDriver(c, 64, 48000)

	w := newFakeWaker()
	c.own.Store(&driverState{rec: c.own.Load().rec, waker: w})

	c.engineWG.Add(1)
	go c.runEngine()

	// Blocks forever if the stop poke lands anywhere but the descriptor
	// the engine sleeps on.
	c.stopEngine()
}

func TestProcessThreadOwnsCycleLoop(t *testing.T) {
	c := newTestClient(t)
	attachDriver(c, 128, 48000)
	c.started.Store(true)

	w := newFakeWaker()
	c.own.Store(&driverState{rec: c.own.Load().rec, waker: w})

	c.process = func(uint32) { t.Error("process callback ran during takeover") }

	var frames []uint32
	cycles := make(chan struct{})
	done := make(chan struct{})
	c.processThread = func() {
		defer close(done)
		for {
			f, err := c.CycleWait()
			if err != nil {
				return
			}
			frames = append(frames, f)
			c.CycleSignal(f)
			cycles <- struct{}{}
		}
	}

	c.engineWG.Add(1)
	go c.runEngine()

	w.ch <- 1
	<-cycles
	w.ch <- 1
	<-cycles
	c.engineStop.Store(true)
	w.ch <- 1 // unblock the final CycleWait
	<-done
	c.engineWG.Wait()

	if len(frames) != 2 || frames[0] != 128 || frames[1] != 128 {
		t.Errorf("cycle frames = %v", frames)
	}
	if s := c.own.Load().rec.Status.Load(); s != activation.StatusFinished {
		t.Errorf("status = %d", s)
	}
}

func ptrTimebase(fn TimebaseFunc) *TimebaseFunc { return &fn }
