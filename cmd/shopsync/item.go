package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/shopsync/internal/models"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Edit items on the shopping list",
}

var itemAddCmd = &cobra.Command{
	Use:     "add <product-id> <quantity>",
	Short:   "Add a product to the list",
	Example: `  shopsync item add 42 2 -i pantry`,
	Args:    cobra.ExactArgs(2),
	RunE:    runItemAdd,
}

var itemUpdateCmd = &cobra.Command{
	Use:   "update <item-id>",
	Short: "Change fields of an item",
	Example: `  shopsync item update srv-12 --notes "organic" -i pantry
  shopsync item update srv-12 --quantity-purchased 3 -i pantry
  shopsync item update srv-12 --clear-quantity -i pantry`,
	Args: cobra.ExactArgs(1),
	RunE: runItemUpdate,
}

var itemCheckCmd = &cobra.Command{
	Use:   "check <item-id>...",
	Short: "Mark items as purchased",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runItemStatus(models.ItemPurchased),
}

var itemUncheckCmd = &cobra.Command{
	Use:   "uncheck <item-id>...",
	Short: "Mark items as pending",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runItemStatus(models.ItemPending),
}

var itemRemoveCmd = &cobra.Command{
	Use:   "remove <item-id>...",
	Short: "Remove items from the list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runItemRemove,
}

var itemRemoveCheckedCmd = &cobra.Command{
	Use:   "remove-checked",
	Short: "Remove every purchased item",
	Args:  cobra.NoArgs,
	RunE:  runItemRemoveChecked,
}

var itemCheckLocationCmd = &cobra.Command{
	Use:   "check-location <location-id>",
	Short: "Mark every item at a location as purchased",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemCheckLocation,
}

var (
	updateStatus      string
	updateNotes       string
	updateQuantity    float64
	updateClearQty    bool
	updateLocationID  string
	updateLocation    string
	checkLocationUndo bool
)

func init() {
	rootCmd.AddCommand(itemCmd)
	itemCmd.AddCommand(
		itemAddCmd,
		itemUpdateCmd,
		itemCheckCmd,
		itemUncheckCmd,
		itemRemoveCmd,
		itemRemoveCheckedCmd,
		itemCheckLocationCmd,
	)

	itemUpdateCmd.Flags().StringVar(&updateStatus, "status", "",
		"New status (pending, purchased, unavailable)")
	itemUpdateCmd.Flags().StringVar(&updateNotes, "notes", "",
		"Replace the item's notes")
	itemUpdateCmd.Flags().Float64Var(&updateQuantity, "quantity-purchased", 0,
		"Quantity actually bought")
	itemUpdateCmd.Flags().BoolVar(&updateClearQty, "clear-quantity", false,
		"Clear the purchased quantity")
	itemUpdateCmd.Flags().StringVar(&updateLocationID, "location-id", "",
		"Move the item to a location")
	itemUpdateCmd.Flags().StringVar(&updateLocation, "location-name", "",
		"Display name of the new location")

	itemCheckLocationCmd.Flags().BoolVar(&checkLocationUndo, "uncheck", false,
		"Mark the items as pending instead")
}

func runItemAdd(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	productID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid product id %q", args[0])
	}
	quantity, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %q", args[1])
	}

	if _, err := apiClient.Lists.AddItem(context.Background(), instance, productID, quantity); err != nil {
		return err
	}
	return reportEdit(instance, "Added product %d", productID)
}

func runItemUpdate(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	update := models.ItemUpdate{ItemID: args[0], ClientTimestamp: time.Now().UTC()}
	flags := cmd.Flags()

	if flags.Changed("status") {
		status := models.ItemStatus(updateStatus)
		if !status.Valid() {
			return fmt.Errorf("invalid status %q", updateStatus)
		}
		update.Status = &status
	}
	if flags.Changed("notes") {
		update.Notes = &updateNotes
	}
	switch {
	case updateClearQty:
		update.QuantityPurchased = models.Null[float64]()
	case flags.Changed("quantity-purchased"):
		update.QuantityPurchased = models.Some(updateQuantity)
	}
	if flags.Changed("location-id") {
		update.LocationID = &updateLocationID
	}
	if flags.Changed("location-name") {
		update.LocationName = &updateLocation
	}

	if !update.HasChanges() {
		return fmt.Errorf("nothing to update: pass at least one field flag")
	}

	if _, err := apiClient.Lists.UpdateItems(context.Background(), instance, []models.ItemUpdate{update}); err != nil {
		return err
	}
	return reportEdit(instance, "Updated item %s", args[0])
}

func runItemStatus(status models.ItemStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		instance, err := requireInstance()
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := make([]models.ItemUpdate, len(args))
		for i, id := range args {
			updates[i] = models.StatusUpdate(id, status, now)
		}

		if _, err := apiClient.Lists.UpdateItems(context.Background(), instance, updates); err != nil {
			return err
		}
		return reportEdit(instance, "Marked %d item(s) %s", len(args), status)
	}
}

func runItemRemove(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	if _, err := apiClient.Lists.RemoveItems(context.Background(), instance, args); err != nil {
		return err
	}
	return reportEdit(instance, "Removed %d item(s)", len(args))
}

func runItemRemoveChecked(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	if _, err := apiClient.Lists.RemoveChecked(context.Background(), instance); err != nil {
		return err
	}
	return reportEdit(instance, "Removed purchased items")
}

func runItemCheckLocation(cmd *cobra.Command, args []string) error {
	instance, err := requireInstance()
	if err != nil {
		return err
	}

	if _, err := apiClient.Lists.SetLocationChecked(context.Background(), instance, args[0], !checkLocationUndo); err != nil {
		return err
	}
	return reportEdit(instance, "Updated location %s", args[0])
}

// reportEdit prints the outcome of an edit followed by the list.
func reportEdit(instance, format string, args ...interface{}) error {
	if !jsonOutput {
		if n := apiClient.Queue.CountInstance(instance); n > 0 {
			printWarning(format+" (queued, %d pending)", append(args, n)...)
		} else {
			printSuccess(format, args...)
		}
	}
	return printView(instance)
}
