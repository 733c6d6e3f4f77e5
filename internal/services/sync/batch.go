package sync

import (
	"context"

	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/queue"
	"github.com/TheMichaelB/shopsync/internal/transport"
)

// batch is a run of queued actions sent as one request.
type batch struct {
	instanceID string
	kind       models.ActionType
	members    []models.PendingAction
}

// buildBatches groups consecutive same-instance, same-type granular
// actions. Every other action forms a batch of its own.
func buildBatches(actions []models.PendingAction) []batch {
	var batches []batch
	for _, a := range actions {
		if n := len(batches); n > 0 && a.IsGranular() {
			last := &batches[n-1]
			if last.instanceID == a.InstanceID && last.kind == a.Type() {
				last.members = append(last.members, a)
				continue
			}
		}
		batches = append(batches, batch{
			instanceID: a.InstanceID,
			kind:       a.Type(),
			members:    []models.PendingAction{a},
		})
	}
	return batches
}

// remapBatch rewrites temporary IDs confirmed earlier in this drain.
func (e *Engine) remapBatch(run *drainRun, b batch) batch {
	ids := run.remaps[b.instanceID]
	if len(ids) == 0 {
		return b
	}

	members := make([]models.PendingAction, len(b.members))
	for i, m := range b.members {
		if payload, ok := queue.RemapPayload(m.Payload, ids); ok {
			m.Payload = payload
		}
		members[i] = m
	}
	b.members = members
	return b
}

// recordRemap remembers server IDs for temporary items and rewrites the
// rest of the queue to use them.
func (e *Engine) recordRemap(run *drainRun, instanceID string, ids map[string]string) {
	if len(ids) == 0 {
		return
	}

	known := run.remaps[instanceID]
	if known == nil {
		known = make(map[string]string)
		run.remaps[instanceID] = known
	}
	for tmp, real := range ids {
		known[tmp] = real
	}

	e.queue.RemapItemIDs(instanceID, ids)
}

func (e *Engine) executeBatch(ctx context.Context, run *drainRun, b batch) error {
	switch b.kind {
	case models.ActionAddItem:
		reqs := combineAdds(b.members)
		run.result.Calls++
		items, err := e.inventory.BulkAddItems(ctx, b.instanceID, reqs)
		if err != nil {
			return err
		}
		e.recordRemap(run, b.instanceID, matchTempItems(addedTempItems(b.members), items))
		return nil

	case models.ActionRemoveItem:
		ids := combineRemoves(b.members)
		if len(ids) == 0 {
			return nil
		}
		run.result.Calls++
		_, err := e.inventory.BulkRemoveItems(ctx, b.instanceID, ids)
		return err

	case models.ActionUpdateItem:
		updates := serverUpdates(combineUpdates(b.members), nil)
		if len(updates) == 0 {
			return nil
		}
		run.result.Calls++
		_, err := e.inventory.BulkUpdateItems(ctx, b.instanceID, updates)
		return err

	case models.ActionCompleteList:
		run.result.Calls++
		if _, err := e.inventory.CompleteList(ctx, b.instanceID); err != nil {
			return err
		}
		e.store.ClearList(b.instanceID)
		return nil

	case models.ActionGenerateList:
		p := b.members[0].Payload.(models.GenerateListPayload)
		run.result.Calls++
		list, err := e.inventory.GenerateList(ctx, b.instanceID, p.Merge)
		if err != nil {
			return err
		}
		e.store.SaveList(list)
		return nil

	default:
		return &models.ValidationError{Field: "type", Message: "unsupported action " + string(b.kind)}
	}
}

// executeSnapshot sends a snapshot cutover as removals, then additions of
// locally created items, then the folded updates. Progress is written back
// to the queue after each step so a retry does not repeat finished steps.
// It returns the action as it stands after the last finished step.
func (e *Engine) executeSnapshot(ctx context.Context, run *drainRun, action models.PendingAction) (models.PendingAction, error) {
	p := action.Payload.(models.ReplaySnapshotPayload)
	instanceID := action.InstanceID

	removed := make(map[string]bool, len(p.RemovedItemIDs))
	var removeIDs []string
	for _, id := range p.RemovedItemIDs {
		removed[id] = true
		if !models.IsTempID(id) {
			removeIDs = append(removeIDs, id)
		}
	}

	if len(removeIDs) > 0 {
		run.result.Calls++
		if _, err := e.inventory.BulkRemoveItems(ctx, instanceID, removeIDs); err != nil {
			return action, wrapStep("bulk remove", err)
		}
		p.RemovedItemIDs = nil
		action.Payload = p
		e.queue.Requeue(action)
	}

	var temps []models.ShoppingListItem
	if p.List != nil {
		for _, item := range p.List.Items {
			if models.IsTempID(item.ID) {
				temps = append(temps, item)
			}
		}
	}

	if len(temps) > 0 {
		reqs := make([]transport.AddItemRequest, 0, len(temps))
		seen := make(map[int]bool, len(temps))
		for _, item := range temps {
			if seen[item.ProductID] {
				continue
			}
			seen[item.ProductID] = true
			reqs = append(reqs, transport.AddItemRequest{ProductID: item.ProductID, Quantity: item.QuantitySuggested})
		}

		run.result.Calls++
		items, err := e.inventory.BulkAddItems(ctx, instanceID, reqs)
		if err != nil {
			return action, wrapStep("bulk add", err)
		}

		ids := matchTempItems(temps, items)
		if payload, ok := queue.RemapPayload(p, ids); ok {
			p = payload.(models.ReplaySnapshotPayload)
			action.Payload = p
		}
		e.recordRemap(run, instanceID, ids)
		e.queue.Requeue(action)
	}

	updates := serverUpdates(p.Updates, removed)
	if len(updates) > 0 {
		run.result.Calls++
		if _, err := e.inventory.BulkUpdateItems(ctx, instanceID, updates); err != nil {
			return action, wrapStep("bulk update", err)
		}
	}

	return action, nil
}

// combineAdds unions adds by product; the last quantity wins.
func combineAdds(members []models.PendingAction) []transport.AddItemRequest {
	index := make(map[int]int)
	var reqs []transport.AddItemRequest
	for _, m := range members {
		p := m.Payload.(models.AddItemPayload)
		if i, ok := index[p.ProductID]; ok {
			reqs[i].Quantity = p.Quantity
			continue
		}
		index[p.ProductID] = len(reqs)
		reqs = append(reqs, transport.AddItemRequest{ProductID: p.ProductID, Quantity: p.Quantity})
	}
	return reqs
}

// combineRemoves unions removal IDs, leaving out items the server never saw.
func combineRemoves(members []models.PendingAction) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range members {
		for _, id := range m.Payload.(models.RemoveItemPayload).ItemIDs {
			if seen[id] || models.IsTempID(id) {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// combineUpdates merges the run's updates, last write wins.
func combineUpdates(members []models.PendingAction) []models.ItemUpdate {
	var merged []models.ItemUpdate
	for _, m := range members {
		merged = queue.MergeItemUpdates(merged, m.Payload.(models.UpdateItemPayload).Updates, m.Timestamp)
	}
	return merged
}

// serverUpdates drops updates the server cannot apply: items it never
// created and items removed in the same cutover.
func serverUpdates(updates []models.ItemUpdate, removed map[string]bool) []models.ItemUpdate {
	var out []models.ItemUpdate
	for _, u := range updates {
		if models.IsTempID(u.ItemID) || removed[u.ItemID] || !u.HasChanges() {
			continue
		}
		out = append(out, u)
	}
	return out
}

func addedTempItems(members []models.PendingAction) []models.ShoppingListItem {
	var items []models.ShoppingListItem
	for _, m := range members {
		if p := m.Payload.(models.AddItemPayload); p.Item != nil && models.IsTempID(p.Item.ID) {
			items = append(items, *p.Item)
		}
	}
	return items
}

// matchTempItems maps temporary item IDs to the server items created for
// the same product.
func matchTempItems(temps []models.ShoppingListItem, created []models.ShoppingListItem) map[string]string {
	byProduct := make(map[int]string, len(created))
	for _, item := range created {
		byProduct[item.ProductID] = item.ID
	}

	ids := make(map[string]string)
	for _, tmp := range temps {
		if real, ok := byProduct[tmp.ProductID]; ok {
			ids[tmp.ID] = real
		}
	}
	return ids
}
