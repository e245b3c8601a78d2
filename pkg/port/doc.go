// Package port holds the fixed-capacity arenas backing local ports, their
// per-connection mixers and the shared buffer descriptors.
//
// Everything here is sized by compile-time constants and recycled through
// free lists: allocation and release are O(1) and the process cycle never
// allocates. A port owns a pre-zeroed fallback region, aligned for the
// vectorized sum kernel, that stands in whenever no connection delivers a
// buffer. Buffers themselves live in server shared memory; this package only
// keeps their mapped descriptors and the FIFO recycling queue per mix.
package port
