package queue

import (
	"time"

	"github.com/TheMichaelB/shopsync/internal/models"
)

// MergeItemUpdates merges incoming into existing keyed by item ID. An
// incoming update is merged over an existing one for the same item only
// when the existing update is not newer than ts; otherwise it is ignored.
// Updates for new items are appended in order.
func MergeItemUpdates(existing, incoming []models.ItemUpdate, ts time.Time) []models.ItemUpdate {
	merged := append([]models.ItemUpdate{}, existing...)
	for _, u := range incoming {
		merged, _ = mergeUpdate(merged, u, ts)
	}
	return merged
}

// mergeUpdate folds u into updates and reports whether it was accepted.
func mergeUpdate(updates []models.ItemUpdate, u models.ItemUpdate, ts time.Time) ([]models.ItemUpdate, bool) {
	if u.ClientTimestamp.IsZero() {
		u.ClientTimestamp = ts
	}

	for i := range updates {
		if updates[i].ItemID != u.ItemID {
			continue
		}
		if updates[i].ClientTimestamp.After(ts) {
			return updates, false
		}
		updates[i] = updates[i].Overlay(u)
		return updates, true
	}

	return append(updates, u), true
}

// MergeIntoSnapshot folds a granular action into a replay_snapshot action
// and returns the combined snapshot. Neither argument is modified.
func MergeIntoSnapshot(snapshot, incoming models.PendingAction, ts time.Time) models.PendingAction {
	out := snapshot.Clone()

	p, ok := out.Payload.(models.ReplaySnapshotPayload)
	if !ok || p.List == nil {
		return out
	}

	switch in := incoming.Payload.(type) {
	case models.UpdateItemPayload:
		for _, u := range in.Updates {
			var accepted bool
			p.Updates, accepted = mergeUpdate(p.Updates, u, ts)
			if !accepted {
				continue
			}
			if idx := p.List.ItemIndex(u.ItemID); idx >= 0 {
				u.ApplyTo(&p.List.Items[idx], ts)
			}
		}

	case models.AddItemPayload:
		item := addedItem(in, ts)
		if !p.List.HasItem(item.ID) {
			p.List.Items = append(p.List.Items, item)
		}

	case models.RemoveItemPayload:
		p.RemovedItemIDs, p.Updates = absorbRemoval(p.RemovedItemIDs, p.Updates, in.ItemIDs)
		p.List.Items = filterItems(p.List.Items, in.ItemIDs)

	default:
		return out
	}

	if ts.After(p.List.LastModifiedAt) {
		p.List.LastModifiedAt = ts
	}
	out.Payload = p
	if ts.After(out.Timestamp) {
		out.Timestamp = ts
	}

	return out
}

// Coalesce returns the queue that results from enqueuing incoming. The
// input slice is not modified.
//
// A replay_snapshot replaces every snapshot and granular entry of its
// instance queued since that instance's last complete or generate entry.
// A granular action folds into an existing snapshot of its instance, and
// an update_item merges into the instance's latest update_item unless an
// add_item or barrier sits between them. Everything else is appended.
func Coalesce(queue []models.PendingAction, incoming models.PendingAction) []models.PendingAction {
	out := make([]models.PendingAction, len(queue), len(queue)+1)
	for i := range queue {
		out[i] = queue[i].Clone()
	}
	incoming = incoming.Clone()

	switch {
	case incoming.Type() == models.ActionReplaySnapshot:
		return coalesceSnapshot(out, incoming)

	case incoming.IsGranular():
		if idx := openSnapshotIndex(out, incoming.InstanceID); idx >= 0 {
			out[idx] = MergeIntoSnapshot(out[idx], incoming, incoming.Timestamp)
			return out
		}

		if incoming.Type() == models.ActionUpdateItem {
			if idx := mergeableUpdateIndex(out, incoming.InstanceID); idx >= 0 {
				out[idx] = mergeUpdateAction(out[idx], incoming)
				return out
			}
		}
	}

	return append(out, incoming)
}

// coalesceSnapshot absorbs the instance's open snapshot and granular
// entries into incoming, keeping their queued intents.
func coalesceSnapshot(queue []models.PendingAction, incoming models.PendingAction) []models.PendingAction {
	p := incoming.Payload.(models.ReplaySnapshotPayload)
	boundary := lastStructuralIndex(queue, incoming.InstanceID)

	var (
		updates  []models.ItemUpdate
		removed  []string
		added    []models.ShoppingListItem
		position = -1
		kept     = make([]models.PendingAction, 0, len(queue)+1)
	)

	for i, action := range queue {
		absorb := i > boundary &&
			action.InstanceID == incoming.InstanceID &&
			(action.IsGranular() || action.Type() == models.ActionReplaySnapshot)
		if !absorb {
			kept = append(kept, action)
			continue
		}

		if position < 0 {
			position = len(kept)
		}

		switch ap := action.Payload.(type) {
		case models.ReplaySnapshotPayload:
			updates = MergeItemUpdates(updates, ap.Updates, action.Timestamp)
			removed, updates = absorbRemoval(removed, updates, ap.RemovedItemIDs)
			if ap.List != nil {
				for _, item := range ap.List.Items {
					if models.IsTempID(item.ID) {
						added = append(added, item.Clone())
					}
				}
			}
		case models.UpdateItemPayload:
			updates = MergeItemUpdates(updates, ap.Updates, action.Timestamp)
		case models.RemoveItemPayload:
			removed, updates = absorbRemoval(removed, updates, ap.ItemIDs)
			added = filterItems(added, ap.ItemIDs)
		case models.AddItemPayload:
			added = append(added, addedItem(ap, action.Timestamp))
		}

		if action.Timestamp.After(incoming.Timestamp) {
			incoming.Timestamp = action.Timestamp
		}
	}

	updates = MergeItemUpdates(updates, p.Updates, incoming.Timestamp)
	removed, updates = absorbRemoval(removed, updates, p.RemovedItemIDs)

	// Locally created items the incoming list is missing still have to
	// reach the server.
	if p.List != nil {
		for _, item := range filterItems(added, p.RemovedItemIDs) {
			if !p.List.HasItem(item.ID) && !p.List.HasProduct(item.ProductID) {
				p.List.Items = append(p.List.Items, item)
			}
		}
	}

	p.Updates = updates
	p.RemovedItemIDs = removed
	incoming.Payload = p

	if position < 0 {
		return append(kept, incoming)
	}

	kept = append(kept, models.PendingAction{})
	copy(kept[position+1:], kept[position:])
	kept[position] = incoming
	return kept
}

// openSnapshotIndex returns the instance's snapshot queued after its last
// complete or generate entry, or -1.
func openSnapshotIndex(queue []models.PendingAction, instanceID string) int {
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i].InstanceID != instanceID {
			continue
		}
		switch queue[i].Type() {
		case models.ActionReplaySnapshot:
			return i
		case models.ActionCompleteList, models.ActionGenerateList:
			return -1
		}
	}
	return -1
}

// mergeableUpdateIndex returns the instance's latest update_item that a new
// update may merge into, or -1.
func mergeableUpdateIndex(queue []models.PendingAction, instanceID string) int {
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i].InstanceID != instanceID {
			continue
		}
		switch queue[i].Type() {
		case models.ActionUpdateItem:
			return i
		case models.ActionRemoveItem:
			continue
		default:
			return -1
		}
	}
	return -1
}

func lastStructuralIndex(queue []models.PendingAction, instanceID string) int {
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i].InstanceID != instanceID {
			continue
		}
		switch queue[i].Type() {
		case models.ActionCompleteList, models.ActionGenerateList:
			return i
		}
	}
	return -1
}

func mergeUpdateAction(existing, incoming models.PendingAction) models.PendingAction {
	ep := existing.Payload.(models.UpdateItemPayload)
	ip := incoming.Payload.(models.UpdateItemPayload)

	ep.Updates = MergeItemUpdates(ep.Updates, ip.Updates, incoming.Timestamp)
	existing.Payload = ep
	if incoming.Timestamp.After(existing.Timestamp) {
		existing.Timestamp = incoming.Timestamp
	}
	return existing
}

// absorbRemoval records server-side removals and drops pending updates for
// the removed items. Temporary IDs never reach the server.
func absorbRemoval(removed []string, updates []models.ItemUpdate, ids []string) ([]string, []models.ItemUpdate) {
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}

	for _, id := range ids {
		if models.IsTempID(id) || contains(removed, id) {
			continue
		}
		removed = append(removed, id)
	}

	kept := updates[:0:0]
	for _, u := range updates {
		if _, drop := gone[u.ItemID]; !drop {
			kept = append(kept, u)
		}
	}

	return removed, kept
}

func filterItems(items []models.ShoppingListItem, ids []string) []models.ShoppingListItem {
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}

	kept := make([]models.ShoppingListItem, 0, len(items))
	for _, item := range items {
		if _, drop := gone[item.ID]; !drop {
			kept = append(kept, item)
		}
	}
	return kept
}

// addedItem returns the optimistic item carried by an add, building a
// placeholder when the add was queued without one.
func addedItem(p models.AddItemPayload, now time.Time) models.ShoppingListItem {
	if p.Item != nil {
		return p.Item.Clone()
	}
	return models.NewTempItem(p.ProductID, p.Quantity, nil, now)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
