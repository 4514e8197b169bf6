package cmd

import (
	"fmt"
	"os"

	"github.com/iksnae/session-bridge/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "session-bridge",
	Short: "Keep two agent conversation stores in sync",
	Long: `session-bridge reconciles conversation logs kept by two independent
coding agents: a JSONL transcript store and a SQLite bubble store.

Both agents keep mutating their own native files; session-bridge diffs each
store's before/after snapshots, replays the changes into the other store, and
verifies the result — so both sides eventually see every turn without
duplicating or losing history.

Quick Start:
  session-bridge link demo --claude-session <uuid> --cursor-session <id>
  session-bridge sync demo                # reconcile both directions
  session-bridge check demo               # is there anything to sync?
  session-bridge watch                    # sync automatically on file changes

For detailed usage, see: https://github.com/iksnae/session-bridge`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Custom config file location")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
