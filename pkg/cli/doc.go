// Package cli provides shared helpers for the soundbridge command-line
// tools: output formatting (YAML, JSON, raw) and human-readable rendering
// of frames, durations and port descriptions.
package cli
