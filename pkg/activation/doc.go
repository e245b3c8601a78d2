// Package activation defines the cross-process record that coordinates
// wake/signal timing and transport state between a graph client and its
// peers.
//
// One Record lives in a server-provided shared memory segment and is mutated
// concurrently by independent OS processes. Every field that more than one
// process writes is declared with a sync/atomic type; the remaining fields
// follow a single-writer discipline (the driver writes the clock and
// segments, the timebase master writes the bar data, each client writes only
// its own status and timestamps). The struct layout is part of the shared
// contract: fields are laid out and padded so that every atomic is naturally
// aligned, and RecordAt refuses regions that are too small or misaligned.
package activation
