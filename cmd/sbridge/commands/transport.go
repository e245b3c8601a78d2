package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arpeggia/soundbridge/pkg/cli"
	"github.com/arpeggia/soundbridge/pkg/transport"
)

// transportStatus is the status document rendered by `transport status`.
type transportStatus struct {
	State     string  `yaml:"state" json:"state"`
	Frame     uint32  `yaml:"frame" json:"frame"`
	FrameRate uint32  `yaml:"frame-rate" json:"frame_rate"`
	Usecs     uint64  `yaml:"usecs" json:"usecs"`
	BBT       string  `yaml:"bbt,omitempty" json:"bbt,omitempty"`
	BPM       float64 `yaml:"bpm,omitempty" json:"bpm,omitempty"`
	Signature string  `yaml:"signature,omitempty" json:"signature,omitempty"`
	XRuns     uint32  `yaml:"xruns" json:"xruns"`
}

var transportCmd = &cobra.Command{
	Use:   "transport",
	Short: "Query and steer the transport",
}

var transportStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the transport state and position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.Close()

		state, pos, err := c.TransportState()
		if err != nil {
			return err
		}
		xruns, _ := c.XRuns()

		doc := transportStatus{
			State:     state.String(),
			Frame:     pos.Frame,
			FrameRate: pos.FrameRate,
			Usecs:     pos.Usecs,
			XRuns:     xruns,
		}
		if pos.Valid&transport.PositionBBT != 0 {
			doc.BBT = cli.FormatBBT(pos.Bar, pos.Beat, pos.Tick)
			doc.BPM = pos.BPM
			doc.Signature = fmt.Sprintf("%g/%g", pos.BeatsPerBar, pos.BeatType)
		}
		return output(doc)
	},
}

var transportStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Ask the driver to roll",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.TransportStart()
	},
}

var transportStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the driver to halt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.TransportStop()
	},
}

var transportLocateCmd = &cobra.Command{
	Use:   "locate <frame>",
	Short: "Relocate the transport to an absolute frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("bad frame %q: %w", args[0], err)
		}
		c, err := open()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.TransportLocate(uint32(frame))
	},
}

func init() {
	transportCmd.AddCommand(transportStatusCmd)
	transportCmd.AddCommand(transportStartCmd)
	transportCmd.AddCommand(transportStopCmd)
	transportCmd.AddCommand(transportLocateCmd)
	rootCmd.AddCommand(transportCmd)
}
