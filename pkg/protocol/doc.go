// Package protocol carries the asynchronous control-plane channel between a
// client and the routing server.
//
// Messages are msgpack-encoded and framed with a fixed header. Over a unix
// socket, file descriptors (wake eventfds, memory blocks) ride along each
// frame as SCM_RIGHTS ancillary data and are referenced from message fields
// by index; the connection resolves them into real descriptors before
// dispatch. Over a websocket no descriptors can travel, which restricts that
// transport to observation and transport control.
//
// The channel is asynchronous: requests carry no reply slot. Callers that
// need a synchronous rendezvous send a Sync message and wait for the
// matching Done, which the server emits after everything sent before the
// Sync has been processed.
package protocol
