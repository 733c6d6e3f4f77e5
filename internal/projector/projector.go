// Package projector applies pending actions to a cached shopping list so
// local views reflect edits before the server confirms them.
package projector

import (
	"time"

	"github.com/TheMichaelB/shopsync/internal/models"
)

// Apply returns the list that results from applying action to list. The
// input list is never modified. A nil result means the list is gone
// (completed) or there was nothing to apply to.
func Apply(list *models.ShoppingList, action models.PendingAction, now time.Time) *models.ShoppingList {
	switch p := action.Payload.(type) {
	case models.ReplaySnapshotPayload:
		return p.List.Clone()

	case models.CompleteListPayload:
		return nil

	case models.GenerateListPayload:
		return list.Clone()
	}

	if list == nil {
		return nil
	}

	out := list.Clone()

	switch p := action.Payload.(type) {
	case models.AddItemPayload:
		item := models.NewTempItem(p.ProductID, p.Quantity, nil, now)
		if p.Item != nil {
			item = p.Item.Clone()
		}
		if out.HasItem(item.ID) {
			return out
		}
		out.Items = append(out.Items, item)

	case models.RemoveItemPayload:
		gone := make(map[string]struct{}, len(p.ItemIDs))
		for _, id := range p.ItemIDs {
			gone[id] = struct{}{}
		}
		kept := make([]models.ShoppingListItem, 0, len(out.Items))
		for _, item := range out.Items {
			if _, drop := gone[item.ID]; !drop {
				kept = append(kept, item)
			}
		}
		out.Items = kept

	case models.UpdateItemPayload:
		for _, u := range p.Updates {
			if idx := out.ItemIndex(u.ItemID); idx >= 0 {
				u.ApplyTo(&out.Items[idx], now)
			}
		}

	default:
		return out
	}

	out.Version++
	out.LastModifiedAt = now
	return out
}

// ApplyAll folds actions over list in order.
func ApplyAll(list *models.ShoppingList, actions []models.PendingAction, now time.Time) *models.ShoppingList {
	for _, action := range actions {
		list = Apply(list, action, now)
	}
	return list
}
