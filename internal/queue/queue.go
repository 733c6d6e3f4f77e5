// Package queue holds mutations made while the inventory service was
// unreachable, coalesced and persisted so they survive restarts.
package queue

import (
	"encoding/json"
	"sync"

	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/state"
)

// Queue is the persistent, ordered list of pending actions.
type Queue struct {
	mu      sync.Mutex
	actions []models.PendingAction
	store   *state.SnapshotStore
	logger  *events.Logger
}

// New creates a queue and loads any actions persisted by a previous run.
func New(store *state.SnapshotStore, logger *events.Logger) *Queue {
	q := &Queue{
		store:  store,
		logger: logger.WithField("component", "action_queue"),
	}
	q.load()
	return q
}

func (q *Queue) load() {
	var raw []json.RawMessage
	if !q.store.Read(state.QueueKey, &raw) {
		return
	}

	for i, entry := range raw {
		var action models.PendingAction
		if err := json.Unmarshal(entry, &action); err != nil {
			q.logger.WithError(err).WithField("index", i).Warn("Skipping unreadable queued action")
			continue
		}
		if err := action.Validate(); err != nil {
			q.logger.WithError(err).WithField("action_id", action.ID).Warn("Skipping invalid queued action")
			continue
		}
		q.actions = append(q.actions, action)
	}

	if len(q.actions) > 0 {
		q.logger.WithField("actions", len(q.actions)).Info("Restored pending actions")
	}
}

// Enqueue validates and coalesces action into the queue. It returns false
// when the action was rejected.
func (q *Queue) Enqueue(action models.PendingAction) bool {
	if err := action.Validate(); err != nil {
		q.logger.WithError(err).WithFields(map[string]interface{}{
			"action_id":   action.ID,
			"action_type": action.Type(),
			"instance_id": action.InstanceID,
		}).Warn("Rejected pending action")
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = Coalesce(q.actions, action)
	q.persist()

	q.logger.WithFields(map[string]interface{}{
		"action_type": action.Type(),
		"instance_id": action.InstanceID,
		"queued":      len(q.actions),
	}).Debug("Enqueued action")

	return true
}

// Requeue stores action without coalescing. An entry with the same ID is
// replaced in place so a retried action keeps its position; otherwise the
// action is appended.
func (q *Queue) Requeue(action models.PendingAction) bool {
	if err := action.Validate(); err != nil {
		q.logger.WithError(err).WithField("action_id", action.ID).Warn("Rejected requeued action")
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.actions {
		if q.actions[i].ID == action.ID {
			q.actions[i] = action.Clone()
			q.persist()
			return true
		}
	}

	q.actions = append(q.actions, action.Clone())
	q.persist()
	return true
}

// Dequeue removes the action with id and reports whether it was present.
func (q *Queue) Dequeue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			q.persist()
			return true
		}
	}
	return false
}

// ReadAll returns a copy of the queue in order.
func (q *Queue) ReadAll() []models.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingAction, len(q.actions))
	for i := range q.actions {
		out[i] = q.actions[i].Clone()
	}
	return out
}

// Clear drops every queued action.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = nil
	q.store.Clear(state.QueueKey)
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// PendingFor returns copies of the actions queued for instanceID, in
// queue order.
func (q *Queue) PendingFor(instanceID string) []models.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.PendingAction
	for _, a := range q.actions {
		if a.InstanceID == instanceID {
			out = append(out, a.Clone())
		}
	}
	return out
}

// HasInstance reports whether any action is queued for instanceID.
func (q *Queue) HasInstance(instanceID string) bool {
	return q.CountInstance(instanceID) > 0
}

// CountInstance returns the number of actions queued for instanceID.
func (q *Queue) CountInstance(instanceID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, a := range q.actions {
		if a.InstanceID == instanceID {
			n++
		}
	}
	return n
}

// CountGranular returns the number of item-level edits queued for
// instanceID, counting each update inside merged update entries.
func (q *Queue) CountGranular(instanceID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, a := range q.actions {
		if a.InstanceID != instanceID {
			continue
		}
		switch p := a.Payload.(type) {
		case models.UpdateItemPayload:
			n += len(p.Updates)
		case models.AddItemPayload, models.RemoveItemPayload:
			n++
		}
	}
	return n
}

// RemapItemIDs replaces temporary item IDs in the instance's queued actions
// with the IDs the server assigned. It returns the number of actions
// changed.
func (q *Queue) RemapItemIDs(instanceID string, ids map[string]string) int {
	if len(ids) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	changed := 0
	for i := range q.actions {
		if q.actions[i].InstanceID != instanceID {
			continue
		}
		if payload, ok := RemapPayload(q.actions[i].Payload, ids); ok {
			q.actions[i].Payload = payload
			changed++
		}
	}

	if changed > 0 {
		q.persist()
		q.logger.WithFields(map[string]interface{}{
			"instance_id": instanceID,
			"actions":     changed,
		}).Debug("Remapped temporary item ids")
	}

	return changed
}

// RemapPayload rewrites item IDs in a payload and reports whether any
// changed. The input payload is not modified.
func RemapPayload(payload models.ActionPayload, ids map[string]string) (models.ActionPayload, bool) {
	changed := false
	remap := func(id string) string {
		if real, ok := ids[id]; ok {
			changed = true
			return real
		}
		return id
	}

	switch p := payload.(type) {
	case models.AddItemPayload:
		if p.Item != nil {
			item := p.Item.Clone()
			item.ID = remap(item.ID)
			p.Item = &item
		}
		return p, changed

	case models.RemoveItemPayload:
		out := make([]string, len(p.ItemIDs))
		for i, id := range p.ItemIDs {
			out[i] = remap(id)
		}
		p.ItemIDs = out
		return p, changed

	case models.UpdateItemPayload:
		p.Updates = remapUpdates(p.Updates, remap)
		return p, changed

	case models.ReplaySnapshotPayload:
		p.Updates = remapUpdates(p.Updates, remap)
		if p.List != nil {
			p.List = p.List.Clone()
			for i := range p.List.Items {
				p.List.Items[i].ID = remap(p.List.Items[i].ID)
			}
		}
		return p, changed

	default:
		return payload, false
	}
}

func remapUpdates(updates []models.ItemUpdate, remap func(string) string) []models.ItemUpdate {
	out := make([]models.ItemUpdate, len(updates))
	for i, u := range updates {
		u.ItemID = remap(u.ItemID)
		out[i] = u
	}
	return out
}

// persist writes the queue. Callers hold q.mu. A failed write leaves the
// in-memory queue intact; the store reports the degradation.
func (q *Queue) persist() {
	if len(q.actions) == 0 {
		q.store.Clear(state.QueueKey)
		return
	}
	q.store.Write(state.QueueKey, q.actions)
}
