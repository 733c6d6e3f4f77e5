package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/services/shoppinglist"
)

// printView prints the cached list of an instance.
func printView(instance string) error {
	view := apiClient.Lists.View(instance)
	if jsonOutput {
		return printJSON(view)
	}

	printStatusLine(view)

	if view.List == nil {
		printInfo("No active shopping list.")
		return nil
	}

	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	for _, section := range view.Sections {
		fmt.Println()
		bold.Printf("%s (%d/%d)\n", section.LocationName, section.Checked, len(section.Items))
		for _, item := range section.Items {
			printItem(item, dim)
		}
	}
	return nil
}

func printItem(item models.ShoppingListItem, dim *color.Color) {
	mark := "[ ]"
	line := color.New(color.Reset)
	switch item.Status {
	case models.ItemPurchased:
		mark = "[x]"
		line = color.New(color.FgGreen)
	case models.ItemUnavailable:
		mark = "[-]"
		line = color.New(color.FgYellow)
	}

	qty := fmt.Sprintf("%g", item.QuantitySuggested)
	if item.QuantityPurchased != nil {
		qty = fmt.Sprintf("%g/%g", *item.QuantityPurchased, item.QuantitySuggested)
	}
	if item.QuantityUnit != "" {
		qty += " " + item.QuantityUnit
	}

	line.Printf("  %s %s  %s", mark, item.ProductName, qty)
	if item.Notes != "" {
		dim.Printf("  (%s)", item.Notes)
	}
	dim.Printf("  %s\n", item.ID)
}

func printStatusLine(view *shoppinglist.View) {
	var parts []string
	if view.Online {
		parts = append(parts, color.GreenString("online"))
	} else {
		parts = append(parts, color.YellowString("offline"))
	}
	if view.Pending > 0 {
		parts = append(parts, color.YellowString("%d pending", view.Pending))
	}
	if view.PersistenceDegraded {
		parts = append(parts, color.RedString("local storage degraded"))
	}
	if view.HadSyncDrop {
		parts = append(parts, color.RedString("some queued edits were dropped"))
	}
	if !view.CachedAt.IsZero() {
		parts = append(parts, "cached "+view.CachedAt.Local().Format("2006-01-02 15:04:05"))
	}

	fmt.Printf("%s  %s\n", color.New(color.Bold).Sprint(view.InstanceID), strings.Join(parts, " · "))
}
