package cli

import "fmt"

// FormatDuration formats milliseconds to human readable string
func FormatDuration(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	secs = secs - float64(mins*60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}

// FormatFrames renders a frame count with its wall-clock duration at the
// given sample rate, e.g. "256 (5.33 ms @ 48000 Hz)". A zero rate renders
// the bare count.
func FormatFrames(frames, rate uint32) string {
	if rate == 0 {
		return fmt.Sprintf("%d", frames)
	}
	ms := float64(frames) / float64(rate) * 1000
	return fmt.Sprintf("%d (%.2f ms @ %d Hz)", frames, ms, rate)
}

// FormatBBT renders a bar/beat/tick triple the way transport displays
// expect, e.g. "4|2|0960".
func FormatBBT(bar, beat, tick int32) string {
	return fmt.Sprintf("%d|%d|%04d", bar, beat, tick)
}
