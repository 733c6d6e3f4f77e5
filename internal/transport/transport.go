package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/TheMichaelB/shopsync/internal/models"
)

// Inventory is the remote inventory service that owns shopping lists.
type Inventory interface {
	// ActiveList returns the instance's active list, or nil when none exists.
	ActiveList(ctx context.Context, instanceID string) (*models.ShoppingList, error)

	// GenerateList builds a list from stock levels. Without merge it fails
	// with a 409 when an active list already exists.
	GenerateList(ctx context.Context, instanceID string, merge bool) (*models.ShoppingList, error)

	// CompleteList archives the active list and returns the server message.
	CompleteList(ctx context.Context, instanceID string) (string, error)

	// BulkAddItems adds products and returns the created items.
	BulkAddItems(ctx context.Context, instanceID string, items []AddItemRequest) ([]models.ShoppingListItem, error)

	// BulkUpdateItems applies partial updates and returns the updated items.
	BulkUpdateItems(ctx context.Context, instanceID string, updates []models.ItemUpdate) ([]models.ShoppingListItem, error)

	// BulkRemoveItems removes items and returns the removed items.
	BulkRemoveItems(ctx context.Context, instanceID string, itemIDs []string) ([]models.ShoppingListItem, error)

	// Product returns catalog metadata for a product.
	Product(ctx context.Context, instanceID string, productID int) (*models.Product, error)
}

// AddItemRequest is one entry of a bulk add.
type AddItemRequest struct {
	ProductID int     `json:"product_id"`
	Quantity  float64 `json:"quantity"`
}

// Request and response bodies.
type (
	generateRequest struct {
		Merge bool `json:"merge"`
	}

	bulkAddRequest struct {
		Items []AddItemRequest `json:"items"`
	}

	bulkUpdateRequest struct {
		Updates []models.ItemUpdate `json:"updates"`
	}

	bulkRemoveRequest struct {
		ItemIDs []string `json:"item_ids"`
	}

	completeResponse struct {
		Message string `json:"message"`
	}
)

func instancePath(instanceID string) string {
	return "/instances/" + url.PathEscape(instanceID)
}

func listPath(instanceID string) string {
	return instancePath(instanceID) + "/shopping-list"
}

func itemsPath(instanceID, op string) string {
	return listPath(instanceID) + "/items/" + op
}

func productPath(instanceID string, productID int) string {
	return fmt.Sprintf("%s/products/%d", instancePath(instanceID), productID)
}
