// Package transport translates between the driver's segment clock and the
// classic bar/beat/tick transport record, and elects the timebase master.
//
// The driver advances a monotonic clock and a set of timeline segments in
// the shared activation record. FromActivation projects that state into the
// external position record once per cycle; ApplyPosition writes the master's
// bar data back. Exactly one client may own the bar data at a time: the
// owner slot in the driver's record is claimed and released with atomic
// compare-and-swap, never with a lock, because the contenders are separate
// OS processes.
package transport
