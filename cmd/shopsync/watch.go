package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/shopsync/internal/connectivity"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow service presence and replay queued edits",
	Long: `Watch keeps a presence connection to the inventory service open. Queued
edits are replayed whenever the service becomes reachable and at the
configured drain interval.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe := apiClient.Monitor.Subscribe(func(s connectivity.Status) {
		if jsonOutput {
			_ = printJSON(s)
			return
		}
		if s.Online {
			printSuccess("Service reachable")
		} else {
			printWarning("Service unreachable, edits will be queued")
		}
	})
	defer unsubscribe()

	printInfo("Watching %s (Ctrl+C to stop)", cfg.API.BaseURL)
	return apiClient.Watch(ctx)
}
