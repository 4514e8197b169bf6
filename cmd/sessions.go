package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/iksnae/session-bridge/internal/store/claude"
	"github.com/iksnae/session-bridge/internal/store/cursor"
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	tagStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List registered sessions",
	Long:  `List every session tag in the registry with its native session ids.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		entries, err := a.registry.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No sessions registered. Use 'session-bridge link' to register one.")
			return nil
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%d session(s)", len(entries))))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TAG\tCLAUDE\tCURSOR\tUPDATED")
		for _, entry := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				tagStyle.Render(entry.Tag),
				idStyle.Render(orDash(entry.NativeIDs[claude.StoreID])),
				idStyle.Render(orDash(entry.NativeIDs[cursor.StoreID])),
				dateStyle.Render(entry.UpdatedAt.Local().Format("2006-01-02 15:04")),
			)
		}
		return w.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
