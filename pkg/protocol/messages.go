package protocol

// Opcode identifies a message type on the wire.
type Opcode uint16

// Server to client.
const (
	OpTransport Opcode = iota + 1
	OpSetParam
	OpSetIO
	OpCommand
	OpAddMem
	OpRemoveMem
	OpPortSetParam
	OpPortUseBuffers
	OpPortSetIO
	OpSetActivation
	OpGlobal
	OpGlobalRemove
	OpDone
	OpError
)

// Client to server.
const (
	OpHello Opcode = iota + 64
	OpSync
	OpPortUpdate
	OpSetActive
	OpLink
	OpUnlink
	OpNotSupported
)

// IO area identifiers for SetIO/PortSetIO.
const (
	IOPosition uint32 = 1
	IOBuffers  uint32 = 2
)

// Command values.
const (
	CommandStart uint32 = iota + 1
	CommandPause
	CommandSuspend
)

// InvalidMem marks an absent memory id (clears the mapping).
const InvalidMem = ^uint32(0)

// Message is any message that travels on the channel.
type Message interface {
	Op() Opcode
}

// Transport hands the client its wake descriptor and activation memory.
type Transport struct {
	NodeID uint32 `msgpack:"node_id"`
	MemID  uint32 `msgpack:"mem_id"`
	Offset uint32 `msgpack:"offset"`
	Size   uint32 `msgpack:"size"`

	ReadFDIndex  int `msgpack:"read_fd"`
	WriteFDIndex int `msgpack:"write_fd"`

	// Resolved from the frame's ancillary descriptors.
	ReadFD  int `msgpack:"-"`
	WriteFD int `msgpack:"-"`
}

func (Transport) Op() Opcode { return OpTransport }

// PortFormat is the negotiated format of a port.
type PortFormat struct {
	MediaType string `msgpack:"media_type"`
	Rate      uint32 `msgpack:"rate"`
	Channels  uint32 `msgpack:"channels"`
}

// SetParam configures a node-level parameter.
type SetParam struct {
	ID    uint32 `msgpack:"id"`
	Flags uint32 `msgpack:"flags"`
}

func (SetParam) Op() Opcode { return OpSetParam }

// SetIO assigns a node-level IO area (position, control).
type SetIO struct {
	ID     uint32 `msgpack:"id"`
	MemID  uint32 `msgpack:"mem_id"`
	Offset uint32 `msgpack:"offset"`
	Size   uint32 `msgpack:"size"`
}

func (SetIO) Op() Opcode { return OpSetIO }

// Command starts or pauses the node.
type Command struct {
	Command uint32 `msgpack:"command"`
}

func (Command) Op() Opcode { return OpCommand }

// AddMem announces a shared memory block.
type AddMem struct {
	ID      uint32 `msgpack:"id"`
	Type    uint32 `msgpack:"type"`
	FDIndex int    `msgpack:"fd"`

	FD int `msgpack:"-"`
}

func (AddMem) Op() Opcode { return OpAddMem }

// RemoveMem retracts a shared memory block.
type RemoveMem struct {
	ID uint32 `msgpack:"id"`
}

func (RemoveMem) Op() Opcode { return OpRemoveMem }

// PortSetParam negotiates a per-port parameter (format).
type PortSetParam struct {
	Direction uint32      `msgpack:"direction"`
	PortID    uint32      `msgpack:"port_id"`
	ID        uint32      `msgpack:"id"`
	Format    *PortFormat `msgpack:"format,omitempty"`
}

func (PortSetParam) Op() Opcode { return OpPortSetParam }

// PlaneInfo describes one data plane in a buffer assignment.
type PlaneInfo struct {
	MemRef      bool   `msgpack:"mem_ref"`
	MemID       uint32 `msgpack:"mem_id"`
	DataOffset  uint32 `msgpack:"data_offset"`
	MaxSize     uint32 `msgpack:"max_size"`
	ChunkOffset uint32 `msgpack:"chunk_offset"`
}

// BufferInfo describes one buffer in an assignment.
type BufferInfo struct {
	MemID  uint32      `msgpack:"mem_id"`
	Offset uint32      `msgpack:"offset"`
	Size   uint32      `msgpack:"size"`
	Planes []PlaneInfo `msgpack:"planes"`
}

// PortUseBuffers assigns the buffer set of one (port, mix).
type PortUseBuffers struct {
	Direction uint32       `msgpack:"direction"`
	PortID    uint32       `msgpack:"port_id"`
	MixID     uint32       `msgpack:"mix_id"`
	Flags     uint32       `msgpack:"flags"`
	Buffers   []BufferInfo `msgpack:"buffers"`
}

func (PortUseBuffers) Op() Opcode { return OpPortUseBuffers }

// PortSetIO assigns the IO exchange cell of one (port, mix).
type PortSetIO struct {
	Direction uint32 `msgpack:"direction"`
	PortID    uint32 `msgpack:"port_id"`
	MixID     uint32 `msgpack:"mix_id"`
	ID        uint32 `msgpack:"id"`
	MemID     uint32 `msgpack:"mem_id"`
	Offset    uint32 `msgpack:"offset"`
	Size      uint32 `msgpack:"size"`
}

func (PortSetIO) Op() Opcode { return OpPortSetIO }

// SetActivation links the client to a downstream node's activation record
// and signal descriptor.
type SetActivation struct {
	NodeID        uint32 `msgpack:"node_id"`
	MemID         uint32 `msgpack:"mem_id"`
	Offset        uint32 `msgpack:"offset"`
	Size          uint32 `msgpack:"size"`
	SignalFDIndex int    `msgpack:"signal_fd"`

	SignalFD int `msgpack:"-"`
}

func (SetActivation) Op() Opcode { return OpSetActivation }

// Global announces a registry object.
type Global struct {
	ID    uint32            `msgpack:"id"`
	Kind  string            `msgpack:"kind"` // "node", "port", "link"
	Props map[string]string `msgpack:"props"`
}

func (Global) Op() Opcode { return OpGlobal }

// GlobalRemove retracts a registry object.
type GlobalRemove struct {
	ID uint32 `msgpack:"id"`
}

func (GlobalRemove) Op() Opcode { return OpGlobalRemove }

// Done acknowledges a Sync.
type Done struct {
	Seq uint32 `msgpack:"seq"`
}

func (Done) Op() Opcode { return OpDone }

// Error reports a server-side failure for an object.
type Error struct {
	ID      uint32 `msgpack:"id"`
	Res     int32  `msgpack:"res"`
	Message string `msgpack:"message"`
}

func (Error) Op() Opcode { return OpError }

// Hello introduces the client.
type Hello struct {
	Name    string            `msgpack:"name"`
	UUID    string            `msgpack:"uuid"`
	Version string            `msgpack:"version"`
	Props   map[string]string `msgpack:"props,omitempty"`
}

func (Hello) Op() Opcode { return OpHello }

// Sync requests a Done once everything before it was processed.
type Sync struct {
	Seq uint32 `msgpack:"seq"`
}

func (Sync) Op() Opcode { return OpSync }

// Port change kinds for PortUpdate.
const (
	PortAdded uint32 = iota + 1
	PortRemoved
	PortRenamed
)

// PortUpdate publishes a local port change to the server.
type PortUpdate struct {
	Direction uint32            `msgpack:"direction"`
	PortID    uint32            `msgpack:"port_id"`
	Change    uint32            `msgpack:"change"`
	Props     map[string]string `msgpack:"props,omitempty"`
}

func (PortUpdate) Op() Opcode { return OpPortUpdate }

// SetActive starts or stops graph participation.
type SetActive struct {
	Active bool `msgpack:"active"`
}

func (SetActive) Op() Opcode { return OpSetActive }

// Link asks the server to connect two ports by global id.
type Link struct {
	SrcPort uint32 `msgpack:"src_port"`
	DstPort uint32 `msgpack:"dst_port"`
}

func (Link) Op() Opcode { return OpLink }

// Unlink asks the server to remove a connection.
type Unlink struct {
	SrcPort uint32 `msgpack:"src_port"`
	DstPort uint32 `msgpack:"dst_port"`
}

func (Unlink) Op() Opcode { return OpUnlink }

// NotSupported answers a request the client cannot serve.
type NotSupported struct {
	Op_     uint16 `msgpack:"op"`
	Message string `msgpack:"message"`
}

func (NotSupported) Op() Opcode { return OpNotSupported }
