package graphobj

import (
	"iter"
	"log/slog"
	"slices"
	"strconv"
)

// Properties is the free-form dictionary attached to a registry global.
type Properties map[string]string

// Int parses an integer property, falling back to def.
func (p Properties) Int(key string, def int) int {
	s, ok := p[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// Bool parses a boolean property, falling back to def.
func (p Properties) Bool(key string, def bool) bool {
	s, ok := p[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

// Cache mirrors server-announced graph objects, keyed by global id.
//
// The cache is mutated only from the control thread; it is not safe for
// concurrent use. Objects handed out by Lookup and the find methods stay
// valid until the id is removed, at which point the storage is recycled.
type Cache struct {
	byID  map[uint32]*Object
	nodes []*Object
	ports []*Object
	links []*Object
	free  []*Object
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{byID: make(map[uint32]*Object)}
}

func (c *Cache) alloc() *Object {
	if n := len(c.free); n > 0 {
		o := c.free[n-1]
		c.free = c.free[:n-1]
		*o = Object{}
		return o
	}
	return &Object{}
}

// Upsert records a global announcement. An announcement with unusable fields
// still reserves the id slot (as KindNone) so that a later remove or lookup
// by id stays consistent; the returned object is nil in that case.
func (c *Cache) Upsert(id uint32, kind Kind, props Properties) *Object {
	o, ok := c.byID[id]
	if !ok {
		o = c.alloc()
		o.ID = id
		c.byID[id] = o
	}
	if o.Kind != KindNone && o.Kind != kind {
		slog.Warn("graphobj: global changed kind", "id", id, "old", o.Kind, "new", kind)
		c.detach(o)
		o.Kind = KindNone
	}

	switch kind {
	case KindNode:
		name, ok := props["node.name"]
		if !ok {
			if name, ok = props["node.description"]; !ok {
				name = "node"
			}
		}
		o.Node.Name = name
		o.Node.Priority = props.Int("priority.driver", 0)
	case KindPort:
		name, ok := props["port.name"]
		if !ok {
			return c.reserve(o, id, "port.name")
		}
		nodeID := props.Int("node.id", -1)
		if nodeID < 0 {
			return c.reserve(o, id, "node.id")
		}
		var flags uint32
		switch props["port.direction"] {
		case "in":
			flags |= PortIsInput
		case "out":
			flags |= PortIsOutput
		}
		if props.Bool("port.physical", false) {
			flags |= PortIsPhysical
		}
		if props.Bool("port.terminal", false) {
			flags |= PortIsTerminal
		}
		if props.Bool("port.monitor", false) {
			flags |= PortCanMonitor
		}
		typ := ParsePortType(props["format.dsp"])
		if props.Bool("port.control", false) {
			typ = PortTypeMIDI
		}

		o.Port.Name = name
		o.Port.Alias1 = props["object.path"]
		o.Port.Alias2 = props["port.alias"]
		o.Port.Flags = flags
		o.Port.Type = typ
		o.Port.NodeID = uint32(nodeID)
		o.Port.LocalID = InvalidID
		if owner := c.Lookup(uint32(nodeID)); owner != nil && owner.Kind == KindNode {
			o.Port.Name = owner.NodeQualifiedName() + ":" + name
			o.Port.Priority = owner.Node.Priority
		}
	case KindLink:
		src := props.Int("link.output.port", -1)
		dst := props.Int("link.input.port", -1)
		if src < 0 || dst < 0 {
			return c.reserve(o, id, "link ports")
		}
		o.Link.SrcPort = uint32(src)
		o.Link.DstPort = uint32(dst)
	default:
		return c.reserve(o, id, "kind")
	}

	if o.Kind == KindNone {
		o.Kind = kind
		switch kind {
		case KindNode:
			c.nodes = append(c.nodes, o)
		case KindPort:
			c.ports = append(c.ports, o)
		case KindLink:
			c.links = append(c.links, o)
		}
	}
	return o
}

// reserve keeps the id slot known but carries no usable object.
func (c *Cache) reserve(o *Object, id uint32, missing string) *Object {
	slog.Debug("graphobj: dropped global", "id", id, "missing", missing)
	return nil
}

func (c *Cache) detach(o *Object) {
	switch o.Kind {
	case KindNode:
		c.nodes = remove(c.nodes, o)
	case KindPort:
		c.ports = remove(c.ports, o)
	case KindLink:
		c.links = remove(c.links, o)
	}
}

func remove(s []*Object, o *Object) []*Object {
	if i := slices.Index(s, o); i >= 0 {
		return slices.Delete(s, i, i+1)
	}
	return s
}

// Remove retracts a global. The object storage is recycled into the free
// pool; previously returned pointers for this id must not be used afterwards.
func (c *Cache) Remove(id uint32) *Object {
	o, ok := c.byID[id]
	if !ok {
		return nil
	}
	delete(c.byID, id)
	c.detach(o)
	c.free = append(c.free, o)
	return o
}

// Lookup returns the object for id, or nil.
func (c *Cache) Lookup(id uint32) *Object {
	return c.byID[id]
}

// FindPortByName scans the known ports for an exact name or alias match.
// Linear: graphs are small and this never runs on the process cycle.
func (c *Cache) FindPortByName(name string) *Object {
	for _, o := range c.ports {
		if o.Port.Name == name || (o.Port.Alias1 != "" && o.Port.Alias1 == name) ||
			(o.Port.Alias2 != "" && o.Port.Alias2 == name) {
			return o
		}
	}
	return nil
}

// FindLink returns the link connecting src to dst, or nil.
func (c *Cache) FindLink(src, dst uint32) *Object {
	for _, o := range c.links {
		if o.Link.SrcPort == src && o.Link.DstPort == dst {
			return o
		}
	}
	return nil
}

// Nodes iterates nodes in discovery order.
func (c *Cache) Nodes() iter.Seq[*Object] { return seq(c.nodes) }

// Ports iterates ports in discovery order.
func (c *Cache) Ports() iter.Seq[*Object] { return seq(c.ports) }

// Links iterates links in discovery order.
func (c *Cache) Links() iter.Seq[*Object] { return seq(c.links) }

func seq(s []*Object) iter.Seq[*Object] {
	return func(yield func(*Object) bool) {
		for _, o := range s {
			if !yield(o) {
				return
			}
		}
	}
}
