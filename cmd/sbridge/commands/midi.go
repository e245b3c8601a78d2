package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arpeggia/soundbridge/pkg/midi"
)

// midiEvent is one decoded entry of a wire sequence.
type midiEvent struct {
	Time    uint32 `yaml:"time" json:"time"`
	Size    int    `yaml:"size" json:"size"`
	Message string `yaml:"message" json:"message"`
}

var midiCmd = &cobra.Command{
	Use:   "midi",
	Short: "MIDI debugging helpers",
}

var midiDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Decode a captured wire sequence",
	Long: `dump reads a file holding a raw control sequence as it travels
between ports and prints every event with its period offset and a
decoded message name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		seq, err := midi.ParseSequence(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		events := make([]midiEvent, 0, seq.Count())
		seq.Events(func(time uint32, data []byte) bool {
			events = append(events, midiEvent{
				Time:    time,
				Size:    len(data),
				Message: midi.Describe(data),
			})
			return true
		})
		if n := uint32(len(events)); n != seq.Count() {
			return fmt.Errorf("%s: truncated after %d of %d events", args[0], n, seq.Count())
		}
		return output(events)
	},
}

func init() {
	midiCmd.AddCommand(midiDumpCmd)
	rootCmd.AddCommand(midiCmd)
}
