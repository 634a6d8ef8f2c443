package cmd

import (
	"github.com/spf13/cobra"
)

func newTestSourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-source <source-id>",
		Short: "Fetch one page of a source and report what it yields, without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.TestSource(cmd.Context(), args[0])
			if err != nil {
				return failed(err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newSimulateCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "simulate <source-id>",
		Short: "Fetch and normalize a handful of records from a source, without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.SimulateSource(cmd.Context(), args[0], limit)
			if err != nil {
				return failed(err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "records to return (0 uses extract.simulate_limit)")
	return cmd
}
