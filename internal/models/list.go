package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the purchase state of a shopping list item.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemPurchased   ItemStatus = "purchased"
	ItemUnavailable ItemStatus = "unavailable"
)

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemPending, ItemPurchased, ItemUnavailable:
		return true
	default:
		return false
	}
}

// TempItemPrefix marks client-generated item IDs that the server has not
// confirmed yet.
const TempItemPrefix = "tmp-"

// IsTempID reports whether id was generated locally for optimistic display.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempItemPrefix)
}

// ShoppingList is the versioned list owned by one inventory instance.
type ShoppingList struct {
	ID             string             `json:"id"`
	InstanceID     string             `json:"instance_id"`
	Version        int                `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	LastModifiedAt time.Time          `json:"last_modified_at"`
	Items          []ShoppingListItem `json:"items"`
	LocationOrder  []string           `json:"location_order"`
}

// ShoppingListItem is a single product line on a shopping list.
type ShoppingListItem struct {
	ID                string     `json:"id"`
	ProductID         int        `json:"product_id"`
	ProductName       string     `json:"product_name"`
	ProductGroupName  *string    `json:"product_group_name,omitempty"`
	LocationID        string     `json:"location_id"`
	LocationName      string     `json:"location_name"`
	Status            ItemStatus `json:"status"`
	QuantitySuggested float64    `json:"quantity_suggested"`
	QuantityPurchased *float64   `json:"quantity_purchased"`
	QuantityUnit      string     `json:"quantity_unit"`
	CurrentStock      float64    `json:"current_stock"`
	MinStock          float64    `json:"min_stock"`
	Notes             string     `json:"notes"`
	CheckedAt         *time.Time `json:"checked_at"`
	ModifiedAt        time.Time  `json:"modified_at"`
}

// Product is the catalog metadata used to build optimistic items.
type Product struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	GroupName    *string `json:"group_name,omitempty"`
	LocationID   string  `json:"location_id"`
	LocationName string  `json:"location_name"`
	Unit         string  `json:"unit"`
	CurrentStock float64 `json:"current_stock"`
	MinStock     float64 `json:"min_stock"`
}

// NewShoppingList creates an empty list for an instance.
func NewShoppingList(id, instanceID string) *ShoppingList {
	now := time.Now().UTC()
	return &ShoppingList{
		ID:             id,
		InstanceID:     instanceID,
		CreatedAt:      now,
		LastModifiedAt: now,
		Items:          []ShoppingListItem{},
		LocationOrder:  []string{},
	}
}

// ItemIndex returns the position of the item with the given id, or -1.
func (l *ShoppingList) ItemIndex(id string) int {
	for i := range l.Items {
		if l.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// HasItem reports whether the list contains an item with id.
func (l *ShoppingList) HasItem(id string) bool {
	return l.ItemIndex(id) >= 0
}

// HasProduct reports whether any item references productID.
func (l *ShoppingList) HasProduct(productID int) bool {
	for i := range l.Items {
		if l.Items[i].ProductID == productID {
			return true
		}
	}
	return false
}

// CheckedItemIDs returns the ids of every purchased item.
func (l *ShoppingList) CheckedItemIDs() []string {
	var ids []string
	for _, item := range l.Items {
		if item.Status == ItemPurchased {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// ItemIDsAtLocation returns the ids of items stored at locationID.
func (l *ShoppingList) ItemIDsAtLocation(locationID string) []string {
	var ids []string
	for _, item := range l.Items {
		if item.LocationID == locationID {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// Validate checks the structural invariants of the list.
func (l *ShoppingList) Validate() error {
	if strings.TrimSpace(l.InstanceID) == "" {
		return fmt.Errorf("instance ID is required")
	}

	if l.Version < 0 {
		return fmt.Errorf("version cannot be negative")
	}

	seen := make(map[string]struct{}, len(l.Items))
	for _, item := range l.Items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("item ID cannot be empty")
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("duplicate item ID: %s", item.ID)
		}
		seen[item.ID] = struct{}{}

		if !item.Status.Valid() {
			return fmt.Errorf("item %s has invalid status %q", item.ID, item.Status)
		}
	}

	return nil
}

// Clone creates a deep copy of the list.
func (l *ShoppingList) Clone() *ShoppingList {
	if l == nil {
		return nil
	}

	clone := *l
	clone.Items = make([]ShoppingListItem, len(l.Items))
	for i, item := range l.Items {
		clone.Items[i] = item.Clone()
	}
	clone.LocationOrder = append([]string{}, l.LocationOrder...)

	return &clone
}

// Clone creates a deep copy of the item.
func (i ShoppingListItem) Clone() ShoppingListItem {
	clone := i
	if i.ProductGroupName != nil {
		v := *i.ProductGroupName
		clone.ProductGroupName = &v
	}
	if i.QuantityPurchased != nil {
		v := *i.QuantityPurchased
		clone.QuantityPurchased = &v
	}
	if i.CheckedAt != nil {
		v := *i.CheckedAt
		clone.CheckedAt = &v
	}
	return clone
}

// NewTempItem builds an optimistic item for a product the server has not
// confirmed yet. product may be nil when no catalog metadata is known.
func NewTempItem(productID int, quantity float64, product *Product, now time.Time) ShoppingListItem {
	item := ShoppingListItem{
		ID:                TempItemPrefix + uuid.NewString(),
		ProductID:         productID,
		ProductName:       fmt.Sprintf("Product #%d", productID),
		Status:            ItemPending,
		QuantitySuggested: quantity,
		ModifiedAt:        now,
	}

	if product != nil {
		item.ProductName = product.Name
		if product.GroupName != nil {
			group := *product.GroupName
			item.ProductGroupName = &group
		}
		item.LocationID = product.LocationID
		item.LocationName = product.LocationName
		item.QuantityUnit = product.Unit
		item.CurrentStock = product.CurrentStock
		item.MinStock = product.MinStock
	}

	return item
}
