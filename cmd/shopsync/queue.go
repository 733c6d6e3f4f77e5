package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or replay edits waiting for the service",
}

var queueShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List queued edits",
	Args:  cobra.NoArgs,
	RunE:  runQueueShow,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued edits now",
	Args:  cobra.NoArgs,
	RunE:  runQueueDrain,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued edit",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

var queueClearForce bool

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueShowCmd, queueDrainCmd, queueClearCmd)

	queueClearCmd.Flags().BoolVar(&queueClearForce, "force", false,
		"Confirm discarding edits that never reached the service")
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	actions := apiClient.Queue.ReadAll()
	if jsonOutput {
		return printJSON(actions)
	}

	if len(actions) == 0 {
		printInfo("Queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINSTANCE\tTYPE\tQUEUED\tFAILURES")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			a.ID, a.InstanceID, a.Type(), a.Timestamp.Local().Format("2006-01-02 15:04:05"), a.FailureCount)
	}
	return w.Flush()
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	result, err := apiClient.Sync.Drain(context.Background())
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	if jsonOutput {
		return printJSON(result)
	}

	printSuccess("Sent %d edit(s) in %d call(s) in %s", result.Succeeded, result.Calls, result.Duration)
	if result.Retried > 0 || result.Skipped > 0 {
		printWarning("%d edit(s) will be retried, %d held back behind them", result.Retried, result.Skipped)
	}
	if result.Dropped > 0 {
		printError("%d edit(s) were rejected and dropped", result.Dropped)
	}
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	n := apiClient.Queue.Len()
	if n > 0 && !queueClearForce {
		return fmt.Errorf("%d queued edit(s) would be lost: pass --force to discard them", n)
	}

	apiClient.Queue.Clear()
	printSuccess("Discarded %d queued edit(s)", n)
	return nil
}
