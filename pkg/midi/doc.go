// Package midi implements the per-port MIDI event buffer and the wire
// sequence codec.
//
// A port buffer is a raw byte region shared with the process callback. It
// starts with a small header, followed by fixed-size event headers growing
// upward and a payload heap growing downward from the end of the region.
// Payloads of up to four bytes are stored inline in the event header, which
// covers all voice messages without touching the heap.
//
// On the wire, events travel as a time-ordered sequence of control entries.
// EncodeSequence turns a port buffer into such a sequence; MergeSequences
// performs the inverse for any number of incoming connections, merging them
// by ascending time into one port buffer.
package midi
