package client

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arpeggia/soundbridge/pkg/activation"
	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/port"
	"github.com/arpeggia/soundbridge/pkg/protocol"
	"github.com/arpeggia/soundbridge/pkg/shm"
	"github.com/arpeggia/soundbridge/pkg/transport"
)

// Version is reported to the server in the hello message.
const Version = "0.9.0"

// Sentinel errors of the client surface.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")

	// ErrActive is returned when changing callbacks on an active client.
	ErrActive = errors.New("client: already active")

	// ErrNotActive is returned by operations that need a running graph
	// attachment.
	ErrNotActive = errors.New("client: not active")

	// ErrNoTransport is returned when no driver position is attached yet.
	ErrNoTransport = errors.New("client: no transport attached")

	// ErrSyncTimeout is returned when the server never acknowledged a
	// sync request before the connection dropped.
	ErrSyncTimeout = errors.New("client: sync abandoned")
)

// ProcessFunc runs once per graph cycle on the realtime goroutine.
type ProcessFunc func(frames uint32)

// BufferFramesFunc is told the new cycle quantum before the first cycle
// that uses it.
type BufferFramesFunc func(frames uint32)

// SampleRateFunc is told the new graph sample rate.
type SampleRateFunc func(rate uint32)

// ShutdownFunc is called once when the server goes away.
type ShutdownFunc func(reason string)

// PortChangeFunc reports a port appearing or disappearing in the registry.
type PortChangeFunc func(id uint32, registered bool)

// ConnectFunc reports a link between two ports forming or dissolving.
type ConnectFunc func(srcPort, dstPort uint32, connected bool)

// XRunFunc is called at the start of the first cycle after the driver
// records an overrun or underrun.
type XRunFunc func()

// SyncFunc votes on a transport start or relocation. Return true when the
// application is ready at the new position.
type SyncFunc func(state transport.State, pos *transport.Position) bool

// TimebaseFunc fills in the musical (bar/beat/tick) fields of the position.
// newPos is true right after a relocation.
type TimebaseFunc func(state transport.State, frames uint32, pos *transport.Position, newPos bool)

// ThreadInitFunc runs once on the realtime goroutine before its first cycle.
type ThreadInitFunc func()

// ProcessThreadFunc takes over the realtime goroutine entirely. Instead of
// a per-cycle process callback the function runs its own loop, pacing each
// cycle with CycleWait and CycleSignal, and the engine resumes ownership
// only when it returns.
type ProcessThreadFunc func()

// driverState is the current driver attachment, published atomically so
// the realtime goroutine never takes a lock to reach it. For our own
// record it also carries both sides of the wake descriptor.
type driverState struct {
	rec      *activation.Record
	m        *shm.Mapping
	waker    shm.Waker // wait side of the wake descriptor
	complete shm.Waker // manual signal side
}

// peerLink is one downstream node to wake when our cycle finishes.
type peerLink struct {
	nodeID uint32
	rec    *activation.Record
	m      *shm.Mapping
	w      shm.Waker
}

// Client is one connection to the graph server.
type Client struct {
	name string
	id   string
	cfg  Config

	conn  *protocol.Conn
	mem   *shm.Pool
	pool  *port.Pool
	cache *graphobj.Cache

	mu       sync.Mutex
	cond     *sync.Cond
	seq      uint32
	lastDone uint32
	closed   bool
	active   bool
	serveErr error

	// Engine-visible state, published atomically. The serve goroutine
	// writes, the realtime goroutine reads without locks.
	nodeID  atomic.Uint32
	own     atomic.Pointer[driverState] // our activation record and waker
	driver  atomic.Pointer[driverState] // driver position source
	links   atomic.Pointer[[]peerLink]
	started atomic.Bool

	engineWG   sync.WaitGroup
	engineStop atomic.Bool

	bufferFrames atomic.Uint32
	sampleRate   atomic.Uint32

	// Callbacks. Written only while inactive, read by the engine.
	process       ProcessFunc
	processThread ProcessThreadFunc
	bufferCB      BufferFramesFunc
	rateCB        SampleRateFunc
	shutdown      ShutdownFunc
	portChange    PortChangeFunc
	connectCB     ConnectFunc
	xrunCB        XRunFunc
	syncCB        atomic.Pointer[SyncFunc]
	timebaseCB    atomic.Pointer[TimebaseFunc]
	threadInit    ThreadInitFunc
	shutdownOnce  sync.Once

	ports      map[uint32]*Port // local ports keyed by direction and pool id
	localPorts atomic.Pointer[[]*Port]
	missed     atomic.Uint64 // wakeups coalesced by the kernel
	xrunSeen   uint32

	curPos transport.Position
}

// Open connects to the server and registers a client named name. The
// returned client has no ports and is not yet active.
func Open(name string, opts ...Option) (*Client, error) {
	if !initialized.Load() {
		return nil, ErrNotInitialized
	}
	if os.Getenv(EnvDisable) != "" {
		return nil, ErrDisabled
	}

	o := applyOptions(opts)
	cfg := o.config
	if cfg == nil {
		loaded, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg = &loaded
	}

	conn := o.conn
	if conn == nil {
		var err error
		if conn, err = dial(cfg.Remote); err != nil {
			return nil, err
		}
	}

	c := &Client{
		name:  name,
		id:    uuid.NewString(),
		cfg:   *cfg,
		conn:  conn,
		mem:   shm.NewPool(),
		pool:  port.NewPool(),
		cache: graphobj.NewCache(),
		ports: make(map[uint32]*Port),
	}
	c.cond = sync.NewCond(&c.mu)
	empty := []peerLink{}
	c.links.Store(&empty)

	props := map[string]string{
		"application.name": name,
	}
	if cfg.NodeName != "" {
		props["node.name"] = cfg.NodeName
	}
	if cfg.LatencyFrames != 0 {
		props["node.latency"] = formatLatency(cfg.LatencyFrames, cfg.LatencyRate)
	}
	if err := conn.Send(protocol.Hello{
		Name:    name,
		UUID:    c.id,
		Version: Version,
		Props:   props,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: hello: %w", err)
	}

	go c.serve()

	// Wait for the initial registry dump before handing the client out.
	if err := c.roundTrip(); err != nil {
		c.Close()
		return nil, err
	}
	slog.Info("client: connected", "name", name, "uuid", c.id, "remote", cfg.Remote)
	return c, nil
}

func dial(remote string) (*protocol.Conn, error) {
	if strings.HasPrefix(remote, "ws://") || strings.HasPrefix(remote, "wss://") {
		return protocol.DialWebSocket(remote)
	}
	return protocol.DialUnix(remote)
}

func formatLatency(frames, rate uint32) string {
	if rate != 0 {
		return fmt.Sprintf("%d/%d", frames, rate)
	}
	return fmt.Sprintf("%d", frames)
}

func (c *Client) serve() {
	err := c.conn.Serve(c)
	c.mu.Lock()
	c.serveErr = err
	wasClosed := c.closed
	c.cond.Broadcast()
	c.mu.Unlock()
	if !wasClosed {
		reason := "server disconnected"
		if err != nil {
			reason = err.Error()
		}
		c.fireShutdown(reason)
	}
}

func (c *Client) fireShutdown(reason string) {
	c.shutdownOnce.Do(func() {
		if c.shutdown != nil {
			c.shutdown(reason)
		}
	})
}

// Name returns the name the client registered under.
func (c *Client) Name() string { return c.name }

// UUID returns the client's unique identity.
func (c *Client) UUID() string { return c.id }

// NodeID returns the server-side node id, 0 before the server assigned one.
func (c *Client) NodeID() uint32 { return c.nodeID.Load() }

// BufferFrames returns the current cycle quantum.
func (c *Client) BufferFrames() uint32 { return c.bufferFrames.Load() }

// SampleRate returns the graph sample rate.
func (c *Client) SampleRate() uint32 { return c.sampleRate.Load() }

// MissedWakeups returns the number of wake signals the kernel coalesced
// into an already-pending one. A steadily growing value means cycles are
// being delivered faster than they complete.
func (c *Client) MissedWakeups() uint64 { return c.missed.Load() }

// roundTrip posts a sync marker and blocks until the server acknowledges
// everything sent before it.
func (c *Client) roundTrip() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	if err := c.conn.Send(protocol.Sync{Seq: seq}); err != nil {
		return fmt.Errorf("client: sync: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.lastDone < seq && !c.closed && c.serveErr == nil {
		c.cond.Wait()
	}
	if c.lastDone >= seq {
		return nil
	}
	if c.serveErr != nil {
		return fmt.Errorf("client: %w: %w", ErrSyncTimeout, c.serveErr)
	}
	return ErrClosed
}

// Activate attaches the client to the graph. The process callback starts
// running once the server schedules the node.
func (c *Client) Activate() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	c.mu.Unlock()

	if err := c.conn.Send(protocol.SetActive{Active: true}); err != nil {
		return fmt.Errorf("client: activate: %w", err)
	}
	if err := c.roundTrip(); err != nil {
		return err
	}

	if own := c.own.Load(); own != nil && own.waker != nil {
		c.engineStop.Store(false)
		c.engineWG.Add(1)
		go c.runEngine()
	}
	return nil
}

// Deactivate detaches the client from the graph. Ports stay registered.
func (c *Client) Deactivate() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	c.mu.Unlock()

	c.stopEngine()
	if err := c.conn.Send(protocol.SetActive{Active: false}); err != nil {
		return fmt.Errorf("client: deactivate: %w", err)
	}
	return c.roundTrip()
}

func (c *Client) stopEngine() {
	c.engineStop.Store(true)
	c.started.Store(false)
	// Poke the wait descriptor so the engine observes the stop flag.
	if own := c.own.Load(); own != nil && own.waker != nil {
		if err := own.waker.Wake(1); err != nil && !errors.Is(err, shm.ErrWouldBlock) {
			slog.Debug("client: engine poke failed", "error", err)
		}
	}
	c.engineWG.Wait()
}

// Close detaches from the server and releases every mapping. Safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.active = false
	c.cond.Broadcast()
	c.mu.Unlock()

	c.stopEngine()
	err := c.conn.Close()

	if own := c.own.Load(); own != nil {
		if own.waker != nil {
			own.waker.Close()
		}
		if own.complete != nil {
			own.complete.Close()
		}
	}
	if links := c.links.Load(); links != nil {
		for _, l := range *links {
			if l.w != nil {
				l.w.Close()
			}
		}
	}
	if err2 := c.mem.Close(); err == nil {
		err = err2
	}
	slog.Info("client: closed", "name", c.name)
	return err
}

// Callback setters. All reject changes while the client is active; the
// engine reads them without locks.

func (c *Client) setCallback(assign func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.active {
		return ErrActive
	}
	assign()
	return nil
}

// OnProcess installs the per-cycle callback.
func (c *Client) OnProcess(fn ProcessFunc) error {
	return c.setCallback(func() { c.process = fn })
}

// OnBufferFrames installs the quantum-change callback.
func (c *Client) OnBufferFrames(fn BufferFramesFunc) error {
	return c.setCallback(func() { c.bufferCB = fn })
}

// OnSampleRate installs the rate-change callback.
func (c *Client) OnSampleRate(fn SampleRateFunc) error {
	return c.setCallback(func() { c.rateCB = fn })
}

// OnShutdown installs the server-loss callback.
func (c *Client) OnShutdown(fn ShutdownFunc) error {
	return c.setCallback(func() { c.shutdown = fn })
}

// OnPortChange installs the registry port callback.
func (c *Client) OnPortChange(fn PortChangeFunc) error {
	return c.setCallback(func() { c.portChange = fn })
}

// OnConnect installs the link change callback.
func (c *Client) OnConnect(fn ConnectFunc) error {
	return c.setCallback(func() { c.connectCB = fn })
}

// OnXRun installs the overrun callback.
func (c *Client) OnXRun(fn XRunFunc) error {
	return c.setCallback(func() { c.xrunCB = fn })
}

// OnThreadInit installs the realtime goroutine setup callback.
func (c *Client) OnThreadInit(fn ThreadInitFunc) error {
	return c.setCallback(func() { c.threadInit = fn })
}

// OnProcessThread hands the realtime goroutine to the application. The
// function is entered once per activation and supersedes OnProcess while
// installed.
func (c *Client) OnProcessThread(fn ProcessThreadFunc) error {
	return c.setCallback(func() { c.processThread = fn })
}

// Option configures Open.
type Option func(*options)

type options struct {
	config *Config
	conn   *protocol.Conn
}

func applyOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithConfig bypasses LoadConfig and uses cfg as-is.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = &cfg }
}

// WithConn attaches to an already established control connection instead
// of dialing. In-process servers use this to host local clients.
func WithConn(conn *protocol.Conn) Option {
	return func(o *options) { o.conn = conn }
}
