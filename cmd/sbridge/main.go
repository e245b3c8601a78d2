// Package main provides the soundbridge operator CLI.
//
// Usage:
//
//	sbridge [flags] <command> [args]
//
// Commands:
//
//	ports       - List ports known to the graph server
//	connect     - Link two ports
//	disconnect  - Unlink two ports
//	transport   - Query and steer the transport
//	midi        - Decode MIDI wire sequences
//	version     - Print the tool version
package main

import (
	"fmt"
	"os"

	"github.com/arpeggia/soundbridge/cmd/sbridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
