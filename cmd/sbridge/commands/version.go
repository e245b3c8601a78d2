package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arpeggia/soundbridge/pkg/client"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the library version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(client.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
