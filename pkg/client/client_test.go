package client

import (
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sys/unix"

	"github.com/arpeggia/soundbridge/pkg/graphobj"
	"github.com/arpeggia/soundbridge/pkg/protocol"
)

// fakeServer answers the client-to-server side of the protocol: every
// sync marker is acknowledged and every other message is recorded.
type fakeServer struct {
	conn *protocol.Conn

	mu      sync.Mutex
	hellos  []protocol.Hello
	updates []protocol.PortUpdate
	links   []protocol.Link
	unlinks []protocol.Unlink
	actives []protocol.SetActive
	notsup  []protocol.NotSupported
	globals []protocol.Global // replayed after hello
}

func (s *fakeServer) run(t *testing.T) {
	for {
		f, err := s.conn.RecvFrame()
		if err != nil {
			return
		}
		switch f.Op {
		case protocol.OpHello:
			var m protocol.Hello
			if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
				t.Errorf("bad hello: %v", err)
				return
			}
			s.mu.Lock()
			s.hellos = append(s.hellos, m)
			globals := s.globals
			s.mu.Unlock()
			for _, g := range globals {
				if err := s.conn.Send(g); err != nil {
					return
				}
			}
		case protocol.OpSync:
			var m protocol.Sync
			if err := msgpack.Unmarshal(f.Payload, &m); err != nil {
				t.Errorf("bad sync: %v", err)
				return
			}
			if err := s.conn.Send(protocol.Done{Seq: m.Seq}); err != nil {
				return
			}
		case protocol.OpPortUpdate:
			var m protocol.PortUpdate
			msgpack.Unmarshal(f.Payload, &m)
			s.mu.Lock()
			s.updates = append(s.updates, m)
			s.mu.Unlock()
		case protocol.OpLink:
			var m protocol.Link
			msgpack.Unmarshal(f.Payload, &m)
			s.mu.Lock()
			s.links = append(s.links, m)
			s.mu.Unlock()
		case protocol.OpUnlink:
			var m protocol.Unlink
			msgpack.Unmarshal(f.Payload, &m)
			s.mu.Lock()
			s.unlinks = append(s.unlinks, m)
			s.mu.Unlock()
		case protocol.OpSetActive:
			var m protocol.SetActive
			msgpack.Unmarshal(f.Payload, &m)
			s.mu.Lock()
			s.actives = append(s.actives, m)
			s.mu.Unlock()
		case protocol.OpNotSupported:
			var m protocol.NotSupported
			msgpack.Unmarshal(f.Payload, &m)
			s.mu.Lock()
			s.notsup = append(s.notsup, m)
			s.mu.Unlock()
		}
	}
}

func startFakeServer(t *testing.T, globals ...protocol.Global) (*fakeServer, *protocol.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	mk := func(fd int, name string) *protocol.Conn {
		f := os.NewFile(uintptr(fd), name)
		nc, err := net.FileConn(f)
		f.Close()
		if err != nil {
			t.Fatalf("fileconn: %v", err)
		}
		return protocol.NewUnixConn(nc.(*net.UnixConn))
	}
	srv := &fakeServer{conn: mk(fds[0], "srv"), globals: globals}
	clientConn := mk(fds[1], "cli")
	go srv.run(t)
	t.Cleanup(func() { srv.conn.Close() })
	return srv, clientConn
}

func openTestClient(t *testing.T, srv *fakeServer, conn *protocol.Conn) *Client {
	t.Helper()
	Init()
	c, err := Open("testapp", WithConn(conn), WithConfig(Config{Remote: "test"}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenHandshake(t *testing.T) {
	srv, conn := startFakeServer(t)
	c := openTestClient(t, srv, conn)

	if c.Name() != "testapp" {
		t.Errorf("name = %q", c.Name())
	}
	if c.UUID() == "" {
		t.Error("no uuid assigned")
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.hellos) != 1 || srv.hellos[0].Name != "testapp" {
		t.Errorf("hellos = %+v", srv.hellos)
	}
	if srv.hellos[0].UUID != c.UUID() {
		t.Error("uuid mismatch in hello")
	}
}

func TestOpenDisabledByEnvironment(t *testing.T) {
	t.Setenv(EnvDisable, "1")
	Init()
	if _, err := Open("nope", WithConfig(Config{Remote: "test"})); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestOpenSeesInitialRegistry(t *testing.T) {
	srv, conn := startFakeServer(t,
		protocol.Global{ID: 1, Kind: "node", Props: map[string]string{"node.name": "system"}},
		protocol.Global{ID: 2, Kind: "port", Props: map[string]string{
			"port.name":      "playback_1",
			"port.direction": "in",
			"node.id":        "1",
			"format.dsp":     "32 bit float mono audio",
			"port.physical":  "true",
		}},
	)
	c := openTestClient(t, srv, conn)

	names, err := c.Ports("", "", 0)
	if err != nil {
		t.Fatalf("ports: %v", err)
	}
	if len(names) != 1 || names[0] != "system/1:playback_1" {
		t.Errorf("ports = %v", names)
	}
}

func TestPortsNodeRestriction(t *testing.T) {
	globals := []protocol.Global{
		{ID: 1, Kind: "node", Props: map[string]string{"node.name": "alpha"}},
		{ID: 2, Kind: "port", Props: map[string]string{
			"port.name": "out", "port.direction": "out", "node.id": "1",
		}},
		{ID: 3, Kind: "node", Props: map[string]string{"node.name": "beta"}},
		{ID: 4, Kind: "port", Props: map[string]string{
			"port.name": "out", "port.direction": "out", "node.id": "3",
		}},
	}

	for _, tc := range []struct {
		node string
		want int
	}{
		{node: "", want: 2},
		{node: "beta", want: 1},
		{node: "1", want: 1}, // restriction by registry id
		{node: "gamma", want: 0},
	} {
		t.Run("node="+tc.node, func(t *testing.T) {
			_, conn := startFakeServer(t, globals...)
			Init()
			c, err := Open("restricted", WithConn(conn),
				WithConfig(Config{Remote: "test", NodeName: tc.node}))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			t.Cleanup(func() { c.Close() })

			names, err := c.Ports("", "", 0)
			if err != nil {
				t.Fatalf("ports: %v", err)
			}
			if len(names) != tc.want {
				t.Errorf("ports = %v, want %d entries", names, tc.want)
			}
		})
	}
}

func TestRegisterAndUnregisterPort(t *testing.T) {
	srv, conn := startFakeServer(t)
	c := openTestClient(t, srv, conn)

	p, err := c.RegisterPort("out_1", graphobj.PortTypeAudio, graphobj.PortIsOutput)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Name() != "testapp:out_1" || p.ShortName() != "out_1" {
		t.Errorf("names = %q / %q", p.Name(), p.ShortName())
	}

	srv.mu.Lock()
	if len(srv.updates) != 1 || srv.updates[0].Change != protocol.PortAdded {
		t.Errorf("updates = %+v", srv.updates)
	}
	props := srv.updates[0].Props
	srv.mu.Unlock()
	if props["port.name"] != "out_1" || props["port.direction"] != "out" {
		t.Errorf("props = %v", props)
	}

	if _, err := c.RegisterPort("out_1", graphobj.PortTypeAudio, graphobj.PortIsOutput); err == nil {
		t.Fatal("duplicate name accepted")
	}

	if err := c.UnregisterPort(p); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	srv.mu.Lock()
	last := srv.updates[len(srv.updates)-1]
	srv.mu.Unlock()
	if last.Change != protocol.PortRemoved {
		t.Errorf("last update = %+v", last)
	}
}

func TestFormatMismatchAnsweredNotSupported(t *testing.T) {
	srv, conn := startFakeServer(t)
	c := openTestClient(t, srv, conn)

	if _, err := c.RegisterPort("in_1", graphobj.PortTypeAudio, graphobj.PortIsInput); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv.mu.Lock()
	up := srv.updates[0]
	srv.mu.Unlock()

	err := srv.conn.Send(protocol.PortSetParam{
		Direction: up.Direction,
		PortID:    up.PortID,
		Format:    &protocol.PortFormat{MediaType: "8 bit raw midi", Rate: 48000},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.Lock()
		n := len(srv.notsup)
		srv.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no not-supported reply")
		}
		time.Sleep(time.Millisecond)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.notsup[0].Op_ != uint16(protocol.OpPortSetParam) {
		t.Errorf("reply = %+v", srv.notsup[0])
	}
}

func TestConnectByName(t *testing.T) {
	srv, conn := startFakeServer(t,
		protocol.Global{ID: 1, Kind: "node", Props: map[string]string{"node.name": "a"}},
		protocol.Global{ID: 2, Kind: "port", Props: map[string]string{
			"port.name": "out", "port.direction": "out", "node.id": "1",
			"format.dsp": "32 bit float mono audio",
		}},
		protocol.Global{ID: 3, Kind: "port", Props: map[string]string{
			"port.name": "in", "port.direction": "in", "node.id": "1",
			"format.dsp": "32 bit float mono audio",
		}},
	)
	c := openTestClient(t, srv, conn)

	if err := c.Connect("a/1:out", "a/1:in"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.links) != 1 || srv.links[0].SrcPort != 2 || srv.links[0].DstPort != 3 {
		t.Errorf("links = %+v", srv.links)
	}
}

func TestConnectRejectsWrongDirection(t *testing.T) {
	srv, conn := startFakeServer(t,
		protocol.Global{ID: 1, Kind: "node", Props: map[string]string{"node.name": "a"}},
		protocol.Global{ID: 2, Kind: "port", Props: map[string]string{
			"port.name": "out", "port.direction": "out", "node.id": "1",
			"format.dsp": "32 bit float mono audio",
		}},
		protocol.Global{ID: 3, Kind: "port", Props: map[string]string{
			"port.name": "in", "port.direction": "in", "node.id": "1",
			"format.dsp": "32 bit float mono audio",
		}},
	)
	c := openTestClient(t, srv, conn)

	if err := c.Connect("a/1:in", "a/1:out"); err == nil {
		t.Fatal("reversed connect accepted")
	}
	if err := c.Connect("a/1:out", "a/1:missing"); err == nil {
		t.Fatal("unknown destination accepted")
	}
}

func TestActivateSendsSetActive(t *testing.T) {
	srv, conn := startFakeServer(t)
	c := openTestClient(t, srv, conn)

	if err := c.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := c.Deactivate(); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.actives) != 2 || !srv.actives[0].Active || srv.actives[1].Active {
		t.Errorf("actives = %+v", srv.actives)
	}
}

func TestCallbackSettersRejectWhileActive(t *testing.T) {
	srv, conn := startFakeServer(t)
	c := openTestClient(t, srv, conn)

	if err := c.OnProcess(func(uint32) {}); err != nil {
		t.Fatalf("set process: %v", err)
	}
	if err := c.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := c.OnProcess(func(uint32) {}); err != ErrActive {
		t.Fatalf("err = %v, want ErrActive", err)
	}
}
