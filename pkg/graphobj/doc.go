// Package graphobj mirrors the server's object registry into local objects.
//
// The server announces nodes, ports and links as globals with a dense integer
// identifier and a free-form property dictionary. This package keeps a local
// cache of those objects so that name lookups and connection queries never
// have to round-trip to the server. Objects are pooled: a removed object goes
// back to an internal free list and may be handed out again for a later
// global. Callers must therefore not hold on to an *Object across the removal
// of its id; handles become invalid once the corresponding remove event has
// been observed.
package graphobj
