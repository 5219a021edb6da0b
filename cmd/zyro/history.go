package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/zyro/internal/config"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored conversation windows",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's window as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(*configPath)
			if err != nil {
				return err
			}
			store, err := openHistory(cmd.Context(), cfg.History)
			if err != nil {
				return err
			}
			defer store.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "    ")
			return errors.Wrap(enc.Encode(store.Get(args[0])), "encode history")
		},
	})
	return cmd
}
