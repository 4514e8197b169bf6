package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iksnae/session-bridge/internal/store/claude"
	"github.com/iksnae/session-bridge/internal/store/cursor"
)

var (
	linkClaudeSession string
	linkCursorSession string
)

var linkCmd = &cobra.Command{
	Use:   "link <session-tag>",
	Short: "Register or update a session's native ids",
	Long: `Map a user-facing session tag to the native session id each store uses.
Run it again when a store issues a new native id (e.g. a continuation).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := args[0]
		if linkClaudeSession == "" && linkCursorSession == "" {
			return fmt.Errorf("nothing to link: pass --claude-session and/or --cursor-session")
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		if linkClaudeSession != "" {
			if _, err := a.registry.RegisterOrUpdate(tag, claude.StoreID, linkClaudeSession); err != nil {
				return err
			}
		}
		if linkCursorSession != "" {
			if _, err := a.registry.RegisterOrUpdate(tag, cursor.StoreID, linkCursorSession); err != nil {
				return err
			}
		}

		entry, err := a.registry.Get(tag)
		if err != nil {
			return err
		}
		fmt.Printf("linked %s: claude=%s cursor=%s\n",
			tag, orDash(entry.NativeIDs[claude.StoreID]), orDash(entry.NativeIDs[cursor.StoreID]))
		return nil
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkClaudeSession, "claude-session", "", "Native session id in the transcript store")
	linkCmd.Flags().StringVar(&linkCursorSession, "cursor-session", "", "Native session id in the bubble store")
	rootCmd.AddCommand(linkCmd)
}
