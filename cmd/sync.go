package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/iksnae/session-bridge/internal/engine"
	"github.com/iksnae/session-bridge/internal/logging"
)

var syncDirection string

var (
	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

var syncCmd = &cobra.Command{
	Use:   "sync <session-tag>",
	Short: "Reconcile a session between both stores",
	Long: `Reconcile one session's conversation between the transcript store and the
bubble store. By default both directions run; a direction failing does not
stop the other.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction, err := engine.ParseDirection(syncDirection)
		if err != nil {
			return err
		}

		a, err := buildApp()
		if err != nil {
			return err
		}

		if n, err := a.engine.CleanupStaleLocks(); err != nil {
			logging.LogWarn("stale lock cleanup: %v", err)
		} else if n > 0 {
			logging.LogInfo("reclaimed %d stale lock(s)", n)
		}

		sess, err := a.sessionFor(args[0])
		if err != nil {
			return err
		}

		result := a.engine.SyncSession(cmd.Context(), sess, direction)
		if result.Success {
			fmt.Println(okStyle.Render(fmt.Sprintf("✓ synced %d item(s)", result.SyncedItems)))
		} else {
			fmt.Println(failStyle.Render(fmt.Sprintf("✗ sync finished with %d error(s)", len(result.Errors))))
			for _, msg := range result.Errors {
				fmt.Println(detailStyle.Render("  " + msg))
			}
		}
		fmt.Println(detailStyle.Render(fmt.Sprintf("  operation %s in %s", result.OperationID, result.Duration.Round(time.Millisecond))))

		if !result.Success {
			// The result already carries the detail; signal failure without
			// a duplicate error dump.
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return fmt.Errorf("sync failed")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncDirection, "direction", "d", "bidirectional", "Sync direction: push, pull, or bidirectional")
	rootCmd.AddCommand(syncCmd)
}
