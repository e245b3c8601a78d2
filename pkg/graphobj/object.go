package graphobj

import "strconv"

// Kind discriminates the object variants.
type Kind int

const (
	// KindNone marks a reserved id slot for which no usable global was
	// announced. The slot keeps later remove/lookup by id consistent.
	KindNone Kind = iota
	// KindNode is a processing node in the graph.
	KindNode
	// KindPort is an input or output port owned by a node.
	KindPort
	// KindLink is a connection between two ports.
	KindLink
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindPort:
		return "port"
	case KindLink:
		return "link"
	}
	return "none"
}

// PortType is the numeric format tag of a port.
type PortType uint32

const (
	// PortTypeAudio is 32-bit float planar audio.
	PortTypeAudio PortType = 0
	// PortTypeMIDI is control/MIDI data.
	PortTypeMIDI PortType = 1
	// PortTypeVideo is 32-bit float RGBA video.
	PortTypeVideo PortType = 2
	// PortTypeOther is opaque data.
	PortTypeOther PortType = 3
)

// String returns the canonical media type string for the port type.
func (t PortType) String() string {
	switch t {
	case PortTypeAudio:
		return "32 bit float mono audio"
	case PortTypeMIDI:
		return "8 bit raw midi"
	case PortTypeVideo:
		return "32 bit float RGBA video"
	}
	return "other"
}

// ParsePortType maps a media type string to a PortType. Unknown strings map
// to PortTypeOther.
func ParsePortType(s string) PortType {
	switch s {
	case "32 bit float mono audio", "audio":
		return PortTypeAudio
	case "8 bit raw midi", "midi":
		return PortTypeMIDI
	case "32 bit float RGBA video", "video":
		return PortTypeVideo
	}
	return PortTypeOther
}

// Port flag bits, exposed unchanged on the public surface.
const (
	PortIsInput    = 1 << 0
	PortIsOutput   = 1 << 1
	PortIsPhysical = 1 << 2
	PortCanMonitor = 1 << 3
	PortIsTerminal = 1 << 4
)

// LatencyRange is a min/max latency in frames.
type LatencyRange struct {
	Min uint32
	Max uint32
}

// Node holds the node-variant fields.
type Node struct {
	Name     string
	Priority int
}

// Port holds the port-variant fields.
type Port struct {
	Name    string
	Alias1  string
	Alias2  string
	Flags   uint32
	Type    PortType
	NodeID  uint32
	LocalID uint32 // slot in the local port pool, InvalidID for remote ports

	CaptureLatency  LatencyRange
	PlaybackLatency LatencyRange
	MonitorRequests uint32
	Priority        int
}

// Link holds the link-variant fields.
type Link struct {
	SrcPort uint32
	DstPort uint32
}

// InvalidID is the reserved never-assigned identifier.
const InvalidID = ^uint32(0)

// Object is a tagged variant of {Node, Port, Link}. Only the field selected
// by Kind is meaningful.
type Object struct {
	ID   uint32
	Kind Kind

	Node Node
	Port Port
	Link Link
}

// NodeQualifiedName returns the node's display name suffixed with the
// global id, so two nodes announcing the same name stay distinguishable
// in port prefixes.
func (o *Object) NodeQualifiedName() string {
	return o.Node.Name + "/" + strconv.FormatUint(uint64(o.ID), 10)
}
