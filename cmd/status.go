package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/iksnae/session-bridge/internal/state"
)

var statusTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("212"))

var statusCmd = &cobra.Command{
	Use:   "status <session-tag>",
	Short: "Show a session's sync state",
	Long:  `Show the persisted sync bookkeeping for a session: message count, last sync time, registered native ids, and backup locations.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := args[0]
		a, err := buildApp()
		if err != nil {
			return err
		}

		states := state.NewService(a.cfg.StateDir())
		has, err := states.Has(tag)
		if err != nil {
			return err
		}

		fmt.Println(statusTitleStyle.Render("Session " + tag))

		entry, err := a.registry.Get(tag)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if entry != nil {
			for storeID, native := range entry.NativeIDs {
				fmt.Fprintf(w, "%s session\t%s\n", storeID, native)
			}
			fmt.Fprintf(w, "registered\t%s\n", entry.CreatedAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintf(w, "registered\tno (tag used as native id)\n")
		}

		if !has {
			fmt.Fprintf(w, "synced\tnever\n")
			return w.Flush()
		}

		st, err := states.Get(tag)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "messages\t%d\n", st.MessageCount)
		if st.LastSyncTimestamp.IsZero() {
			fmt.Fprintf(w, "last sync\tnever\n")
		} else {
			fmt.Fprintf(w, "last sync\t%s\n", st.LastSyncTimestamp.Local().Format("2006-01-02 15:04:05"))
		}
		for storeID, path := range st.BackupPaths {
			fmt.Fprintf(w, "%s backup\t%s\n", storeID, path)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
