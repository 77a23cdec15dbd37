package main

import (
	"fmt"

	"github.com/alexjbarnes/keep-sync/internal/ui"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recorded sync runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runsLimit < 1 {
			return fmt.Errorf("--limit must be at least 1")
		}

		appState, err := stateOnly()
		if err != nil {
			return err
		}
		defer appState.Close()

		runs, err := appState.Runs(runsLimit)
		if err != nil {
			return fmt.Errorf("reading runs: %w", err)
		}

		fmt.Fprint(cmd.OutOrStdout(), ui.RunsTable(runs))

		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "number of runs to show")
	rootCmd.AddCommand(runsCmd)
}
