package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Nullable distinguishes an absent field from an explicit null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set, non-null value.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null returns a set, explicit null.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

func (n Nullable[T]) raw() (json.RawMessage, error) {
	if !n.Set {
		return nil, nil
	}
	if n.Value == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(*n.Value)
}

func (n *Nullable[T]) fromRaw(raw json.RawMessage) error {
	if len(raw) == 0 {
		*n = Nullable[T]{}
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		*n = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}

// ItemUpdate is a partial change to one shopping list item.
type ItemUpdate struct {
	ItemID            string
	Status            *ItemStatus
	QuantityPurchased Nullable[float64]
	Notes             *string
	CheckedAt         Nullable[time.Time]
	LocationID        *string
	LocationName      *string
	ClientTimestamp   time.Time
}

type itemUpdateWire struct {
	ItemID            string          `json:"item_id"`
	Status            *ItemStatus     `json:"status,omitempty"`
	QuantityPurchased json.RawMessage `json:"quantity_purchased,omitempty"`
	Notes             *string         `json:"notes,omitempty"`
	CheckedAt         json.RawMessage `json:"checked_at,omitempty"`
	LocationID        *string         `json:"location_id,omitempty"`
	LocationName      *string         `json:"location_name,omitempty"`
	ClientTimestamp   time.Time       `json:"client_timestamp"`
}

// MarshalJSON omits unset fields and writes null for explicit nulls.
func (u ItemUpdate) MarshalJSON() ([]byte, error) {
	qty, err := u.QuantityPurchased.raw()
	if err != nil {
		return nil, fmt.Errorf("marshal quantity_purchased: %w", err)
	}
	checked, err := u.CheckedAt.raw()
	if err != nil {
		return nil, fmt.Errorf("marshal checked_at: %w", err)
	}

	return json.Marshal(itemUpdateWire{
		ItemID:            u.ItemID,
		Status:            u.Status,
		QuantityPurchased: qty,
		Notes:             u.Notes,
		CheckedAt:         checked,
		LocationID:        u.LocationID,
		LocationName:      u.LocationName,
		ClientTimestamp:   u.ClientTimestamp,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (u *ItemUpdate) UnmarshalJSON(data []byte) error {
	var wire itemUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	out := ItemUpdate{
		ItemID:          wire.ItemID,
		Status:          wire.Status,
		Notes:           wire.Notes,
		LocationID:      wire.LocationID,
		LocationName:    wire.LocationName,
		ClientTimestamp: wire.ClientTimestamp,
	}
	if err := out.QuantityPurchased.fromRaw(wire.QuantityPurchased); err != nil {
		return fmt.Errorf("parse quantity_purchased: %w", err)
	}
	if err := out.CheckedAt.fromRaw(wire.CheckedAt); err != nil {
		return fmt.Errorf("parse checked_at: %w", err)
	}

	*u = out
	return nil
}

// HasChanges reports whether the update touches any item field.
func (u ItemUpdate) HasChanges() bool {
	return u.Status != nil ||
		u.QuantityPurchased.Set ||
		u.Notes != nil ||
		u.CheckedAt.Set ||
		u.LocationID != nil ||
		u.LocationName != nil
}

// Overlay merges incoming over u. Fields set on incoming win; the result
// carries incoming's item ID and the later client timestamp.
func (u ItemUpdate) Overlay(incoming ItemUpdate) ItemUpdate {
	out := u
	if incoming.ItemID != "" {
		out.ItemID = incoming.ItemID
	}
	if incoming.Status != nil {
		out.Status = incoming.Status
	}
	if incoming.QuantityPurchased.Set {
		out.QuantityPurchased = incoming.QuantityPurchased
	}
	if incoming.Notes != nil {
		out.Notes = incoming.Notes
	}
	if incoming.CheckedAt.Set {
		out.CheckedAt = incoming.CheckedAt
	}
	if incoming.LocationID != nil {
		out.LocationID = incoming.LocationID
	}
	if incoming.LocationName != nil {
		out.LocationName = incoming.LocationName
	}
	if incoming.ClientTimestamp.After(out.ClientTimestamp) {
		out.ClientTimestamp = incoming.ClientTimestamp
	}
	return out
}

// ApplyTo writes the update's fields onto item.
func (u ItemUpdate) ApplyTo(item *ShoppingListItem, now time.Time) {
	if u.Status != nil {
		item.Status = *u.Status
		if !u.CheckedAt.Set {
			switch *u.Status {
			case ItemPurchased:
				if item.CheckedAt == nil {
					t := now
					item.CheckedAt = &t
				}
			case ItemPending:
				item.CheckedAt = nil
			}
		}
	}
	if u.QuantityPurchased.Set {
		if u.QuantityPurchased.Value == nil {
			item.QuantityPurchased = nil
		} else {
			v := *u.QuantityPurchased.Value
			item.QuantityPurchased = &v
		}
	}
	if u.Notes != nil {
		item.Notes = *u.Notes
	}
	if u.CheckedAt.Set {
		if u.CheckedAt.Value == nil {
			item.CheckedAt = nil
		} else {
			t := *u.CheckedAt.Value
			item.CheckedAt = &t
		}
	}
	if u.LocationID != nil {
		item.LocationID = *u.LocationID
	}
	if u.LocationName != nil {
		item.LocationName = *u.LocationName
	}
	item.ModifiedAt = now
}

// StatusUpdate builds an update that only changes the item's status.
func StatusUpdate(itemID string, status ItemStatus, ts time.Time) ItemUpdate {
	s := status
	return ItemUpdate{ItemID: itemID, Status: &s, ClientTimestamp: ts}
}
