// Command zyro runs the chat bot and its maintenance tools.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "zyro",
		Short:         "Zyro chat bot backed by an OpenAI-compatible model",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./zyro.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newHistoryCmd(&configPath),
		newEventsCmd(&configPath),
	)
	return root
}
