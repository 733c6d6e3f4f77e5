package testutil

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// TestConfig returns a config pointing at baseURL with storage under a
// temporary directory. Retries are disabled so failures surface at once.
func TestConfig(tb testing.TB, baseURL string) *config.Config {
	tb.Helper()

	dir := tb.TempDir()
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 0
	cfg.Storage.DataDir = dir
	cfg.Storage.SQLitePath = filepath.Join(dir, "snapshots.db")
	cfg.Sync.RefreshBackoff = time.Millisecond
	cfg.Sync.DrainInterval = 50 * time.Millisecond
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	cfg.Log.Color = false
	return cfg
}

// Products used by the fixtures.
var (
	Milk  = models.Product{ID: 1, Name: "Milk", Unit: "l", LocationID: "fridge", LocationName: "Fridge"}
	Eggs  = models.Product{ID: 2, Name: "Eggs", Unit: "pcs", LocationID: "fridge", LocationName: "Fridge"}
	Rice  = models.Product{ID: 3, Name: "Rice", Unit: "kg", LocationID: "shelf", LocationName: "Shelf"}
	Flour = models.Product{ID: 4, Name: "Flour", Unit: "kg", LocationID: "shelf", LocationName: "Shelf"}
)

// Catalog lists every fixture product.
func Catalog() []models.Product {
	return []models.Product{Milk, Eggs, Rice, Flour}
}

// Item builds a pending server item for product.
func Item(id string, product models.Product, quantity float64) models.ShoppingListItem {
	now := time.Now().UTC()
	return models.ShoppingListItem{
		ID:                id,
		ProductID:         product.ID,
		ProductName:       product.Name,
		QuantitySuggested: quantity,
		QuantityUnit:      product.Unit,
		Status:            models.ItemPending,
		LocationID:        product.LocationID,
		LocationName:      product.LocationName,
		ModifiedAt:        now,
	}
}

// SampleList returns a list with Milk and Rice, ordered fridge then shelf.
func SampleList(instanceID string) *models.ShoppingList {
	list := models.NewShoppingList(fmt.Sprintf("list-%s", instanceID), instanceID)
	list.LocationOrder = []string{"fridge", "shelf"}
	list.Items = []models.ShoppingListItem{
		Item("item-1", Milk, 2),
		Item("item-2", Rice, 1),
	}
	return list
}

// LargeList returns a list with n items spread over the fixture products.
func LargeList(instanceID string, n int) *models.ShoppingList {
	list := models.NewShoppingList(fmt.Sprintf("list-%s", instanceID), instanceID)
	products := Catalog()
	for i := 0; i < n; i++ {
		p := products[i%len(products)]
		p.ID = i + 1
		list.Items = append(list.Items, Item(fmt.Sprintf("item-%d", i+1), p, float64(i%5+1)))
	}
	return list
}
