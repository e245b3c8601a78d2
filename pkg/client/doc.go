// Package client is the application-facing surface of soundbridge. It
// speaks the control protocol to a graph server, maintains the shared
// memory attachments, and drives the application's process callback once
// per graph cycle on a dedicated realtime goroutine.
//
// A process starts by calling Init once, then Open for each client it
// wants on the graph. Ports, transport control, and buffer access all
// hang off the returned Client.
package client
