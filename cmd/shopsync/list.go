package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/shopsync/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show, generate or complete the shopping list",
}

var listShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active shopping list",
	Long: `Show fetches the active list, replaying queued edits first. Offline,
or when the service cannot be reached, the cached copy is shown.`,
	Args: cobra.NoArgs,
	RunE: runListShow,
}

var listGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a shopping list from stock levels",
	Example: `  shopsync list generate -i pantry
  shopsync list generate -i pantry --merge`,
	Args: cobra.NoArgs,
	RunE: runListGenerate,
}

var listCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Archive the active shopping list",
	Args:  cobra.NoArgs,
	RunE:  runListComplete,
}

var generateMerge bool

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.AddCommand(listShowCmd, listGenerateCmd, listCompleteCmd)

	listGenerateCmd.Flags().BoolVar(&generateMerge, "merge", false,
		"Merge stock levels into an existing list")
}

func runListShow(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	if _, err := apiClient.Lists.Load(context.Background(), instance); err != nil {
		return err
	}

	return printView(instance)
}

func runListGenerate(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	list, err := apiClient.Lists.Generate(context.Background(), instance, generateMerge)
	switch {
	case errors.Is(err, models.ErrActiveListExists):
		printWarning("An active list already exists. Re-run with --merge to add stock levels to it.")
		return err
	case errors.Is(err, models.ErrOffline):
		printWarning("Generating a list needs a connection to the inventory service.")
		return err
	case errors.Is(err, models.ErrPendingChanges):
		printWarning("Queued changes are still waiting to sync. Run 'shopsync queue drain' and try again.")
		return err
	case err != nil:
		return err
	}

	if !jsonOutput {
		printSuccess("Generated list %s with %d items", list.ID, len(list.Items))
	}
	return printView(instance)
}

func runListComplete(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	if err := apiClient.Lists.Complete(context.Background(), instance); err != nil {
		return fmt.Errorf("complete list: %w", err)
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{"instance_id": instance, "completed": true, "pending": apiClient.Queue.CountInstance(instance)})
	}
	if apiClient.Queue.HasInstance(instance) {
		printWarning("List completed locally; the completion is queued until the service is reachable")
		return nil
	}
	printSuccess("List completed")
	return nil
}
