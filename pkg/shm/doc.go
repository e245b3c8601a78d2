// Package shm maps server-provided shared memory blocks and carries the wake
// descriptors used to trigger real-time cycles.
//
// The server announces memory blocks by integer id together with a file
// descriptor; Pool keeps the id table and hands out mmap-backed Mappings.
// Mappings can carry a tag so that a later control message replacing an IO
// area can locate and free the previous mapping. Pages backing real-time
// buffers are locked to avoid faults on the process cycle.
package shm
