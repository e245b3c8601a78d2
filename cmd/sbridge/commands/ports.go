package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arpeggia/soundbridge/pkg/graphobj"
)

var (
	flagPortType string
	flagPhysical bool
	flagInputs   bool
	flagOutputs  bool
)

// portEntry is the list row rendered by the ports command.
type portEntry struct {
	ID          uint32   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Direction   string   `yaml:"direction" json:"direction"`
	Physical    bool     `yaml:"physical,omitempty" json:"physical,omitempty"`
	Terminal    bool     `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Connections []string `yaml:"connections,omitempty" json:"connections,omitempty"`
}

var portsCmd = &cobra.Command{
	Use:   "ports [pattern]",
	Short: "List ports known to the server",
	Long: `List the ports in the server registry, optionally filtered by a
regular expression over the qualified name and by type or direction.

Example:
  sbridge ports
  sbridge ports 'system:.*' --outputs
  sbridge ports --type midi --physical`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.Close()

		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		var flags uint32
		if flagPhysical {
			flags |= graphobj.PortIsPhysical
		}
		if flagInputs {
			flags |= graphobj.PortIsInput
		}
		if flagOutputs {
			flags |= graphobj.PortIsOutput
		}
		typePattern := ""
		if flagPortType != "" {
			typePattern = flagPortType
		}

		names, err := c.Ports(pattern, typePattern, flags)
		if err != nil {
			return err
		}

		entries := make([]portEntry, 0, len(names))
		for _, name := range names {
			o, err := c.PortInfo(name)
			if err != nil {
				continue
			}
			dir := "in"
			if o.Port.Flags&graphobj.PortIsOutput != 0 {
				dir = "out"
			}
			conns, _ := c.Connections(name)
			entry := portEntry{
				ID:          o.ID,
				Name:        o.Port.Name,
				Type:        o.Port.Type.String(),
				Direction:   dir,
				Physical:    o.Port.Flags&graphobj.PortIsPhysical != 0,
				Terminal:    o.Port.Flags&graphobj.PortIsTerminal != 0,
				Connections: conns,
			}
			for _, a := range []string{o.Port.Alias1, o.Port.Alias2} {
				if a != "" {
					entry.Aliases = append(entry.Aliases, a)
				}
			}
			entries = append(entries, entry)
		}
		return output(entries)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <source> <destination>",
	Short: "Link an output port to an input port",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Connect(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", args[0], args[1])
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <source> <destination>",
	Short: "Remove the link between two ports",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Disconnect(args[0], args[1])
	},
}

func init() {
	portsCmd.Flags().StringVar(&flagPortType, "type", "", "filter by media type regexp (audio, midi, video)")
	portsCmd.Flags().BoolVar(&flagPhysical, "physical", false, "only physical ports")
	portsCmd.Flags().BoolVar(&flagInputs, "inputs", false, "only input ports")
	portsCmd.Flags().BoolVar(&flagOutputs, "outputs", false, "only output ports")
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}
