package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <session-tag>",
	Short: "Report whether a session has pending changes",
	Long: `Run the diff computation for both stores without applying anything.
Useful before sync to avoid needless lock contention when nothing changed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		sess, err := a.sessionFor(args[0])
		if err != nil {
			return err
		}
		changed, err := a.engine.HasChangesToSync(sess)
		if err != nil {
			return fmt.Errorf("checking session %s: %w", args[0], err)
		}
		if changed {
			fmt.Println("changes pending")
		} else {
			fmt.Println("up to date")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
