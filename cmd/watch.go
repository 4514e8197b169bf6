package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iksnae/session-bridge/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch both stores and sync on change",
	Long: `Run the sync daemon: watch both stores' live files and reconcile a
registered session automatically once its changes settle. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}

		daemon := watch.New(a.engine, a.registry, a.cfg.ClaudeRoot, a.cfg.CursorRoot, time.Duration(a.cfg.Debounce))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Println("watching for changes (Ctrl-C to stop)")
		if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
