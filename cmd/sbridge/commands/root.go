package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arpeggia/soundbridge/pkg/cli"
	"github.com/arpeggia/soundbridge/pkg/client"
)

var (
	flagRemote  string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sbridge",
	Short: "Inspect and steer a soundbridge graph server",
	Long: `sbridge talks to a running graph server the same way a client
application does: it connects, reads the registry and posts control
requests. Nothing here touches the realtime path.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagRemote, "remote", "r", "", "server socket path or ws:// URL")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "yaml", "output format (yaml, json, raw)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// open connects a short-lived control client for one command invocation.
func open() (*client.Client, error) {
	client.Init()
	cfg, err := client.LoadConfig()
	if err != nil {
		return nil, err
	}
	if flagRemote != "" {
		cfg.Remote = flagRemote
	}
	return client.Open("sbridge", client.WithConfig(cfg))
}

func output(result any) error {
	return cli.Output(result, cli.OutputOptions{Format: cli.OutputFormat(flagOutput)})
}
