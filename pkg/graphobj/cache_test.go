package graphobj

import "testing"

func TestCacheUpsertLookup(t *testing.T) {
	c := NewCache()

	n := c.Upsert(1, KindNode, Properties{"node.name": "system", "priority.driver": "2000"})
	if n == nil || n.Kind != KindNode {
		t.Fatalf("node upsert failed: %+v", n)
	}
	if n.Node.Name != "system" {
		t.Errorf("node name = %q", n.Node.Name)
	}
	if got := n.NodeQualifiedName(); got != "system/1" {
		t.Errorf("qualified name = %q", got)
	}
	if n.Node.Priority != 2000 {
		t.Errorf("priority = %d", n.Node.Priority)
	}

	p := c.Upsert(2, KindPort, Properties{
		"port.name":      "capture_1",
		"node.id":        "1",
		"port.direction": "out",
		"port.physical":  "true",
		"format.dsp":     "32 bit float mono audio",
	})
	if p == nil {
		t.Fatal("port upsert failed")
	}
	if p.Port.Name != "system/1:capture_1" {
		t.Errorf("port name = %q", p.Port.Name)
	}
	if p.Port.Flags&PortIsOutput == 0 || p.Port.Flags&PortIsPhysical == 0 {
		t.Errorf("flags = %x", p.Port.Flags)
	}
	if p.Port.Priority != 2000 {
		t.Errorf("port priority = %d", p.Port.Priority)
	}

	if got := c.FindPortByName("system/1:capture_1"); got != p {
		t.Errorf("FindPortByName = %v", got)
	}
	if got := c.Lookup(2); got != p {
		t.Errorf("Lookup = %v", got)
	}
}

func TestCacheReservesDroppedGlobals(t *testing.T) {
	c := NewCache()

	// port.name missing: no object, but the id slot must stay known so a
	// later remove by id is consistent.
	if o := c.Upsert(7, KindPort, Properties{"node.id": "1"}); o != nil {
		t.Fatalf("expected dropped global, got %+v", o)
	}
	if got := c.Lookup(7); got == nil || got.Kind != KindNone {
		t.Fatalf("reserved slot missing: %+v", got)
	}
	if c.Remove(7) == nil {
		t.Error("remove of reserved slot failed")
	}
	if c.Lookup(7) != nil {
		t.Error("slot still present after remove")
	}
}

func TestCacheRemoveRecycles(t *testing.T) {
	c := NewCache()

	c.Upsert(1, KindNode, Properties{"node.name": "a"})
	o := c.Upsert(2, KindNode, Properties{"node.name": "b"})
	if o == nil {
		t.Fatal("upsert failed")
	}
	c.Remove(2)

	if c.Lookup(2) != nil {
		t.Error("object still reachable after remove")
	}
	var count int
	for range c.Nodes() {
		count++
	}
	if count != 1 {
		t.Errorf("nodes after remove = %d", count)
	}

	// The freed storage is reused for the next announcement.
	o2 := c.Upsert(3, KindNode, Properties{"node.name": "c"})
	if o2 != o {
		t.Errorf("expected recycled storage, got %p vs %p", o2, o)
	}
}

func TestCacheFindLink(t *testing.T) {
	c := NewCache()
	c.Upsert(10, KindLink, Properties{"link.output.port": "3", "link.input.port": "4"})

	if l := c.FindLink(3, 4); l == nil {
		t.Fatal("link not found")
	}
	if l := c.FindLink(4, 3); l != nil {
		t.Error("reversed link should not match")
	}
}
