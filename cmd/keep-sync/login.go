package main

import (
	"fmt"
	"os"

	"github.com/alexjbarnes/keep-sync/internal/ui"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save the API token in the state database",
	Long: `Prompt for the note service API token and store it for later runs.
KEEP_TOKEN, when set, takes precedence over the saved token.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		appState, err := stateOnly()
		if err != nil {
			return err
		}
		defer appState.Close()

		prompter := ui.NewPrompter(os.Stdin, cmd.OutOrStdout(), !ui.IsTerminal(os.Stdin))

		token, err := prompter.Token(cmd.Context())
		if err != nil {
			return err
		}

		if err := appState.SetToken(token); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "token saved")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
