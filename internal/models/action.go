package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionType identifies a pending action variant.
type ActionType string

const (
	ActionAddItem        ActionType = "add_item"
	ActionRemoveItem     ActionType = "remove_item"
	ActionUpdateItem     ActionType = "update_item"
	ActionReplaySnapshot ActionType = "replay_snapshot"
	ActionCompleteList   ActionType = "complete_list"
	ActionGenerateList   ActionType = "generate_list"
)

// ActionPayload is implemented by every pending action variant.
type ActionPayload interface {
	Type() ActionType
	clonePayload() ActionPayload
}

// AddItemPayload adds a product to the list. Item is the optimistic item
// shown locally while the add is pending.
type AddItemPayload struct {
	ProductID int               `json:"product_id"`
	Quantity  float64           `json:"quantity"`
	Item      *ShoppingListItem `json:"item,omitempty"`
}

// RemoveItemPayload removes items by id.
type RemoveItemPayload struct {
	ItemIDs []string `json:"item_ids"`
}

// UpdateItemPayload applies partial updates to items.
type UpdateItemPayload struct {
	Updates []ItemUpdate `json:"updates"`
}

// ReplaySnapshotPayload carries a full local list plus the granular edits
// folded into it. RemovedItemIDs lists server items deleted locally.
type ReplaySnapshotPayload struct {
	List           *ShoppingList `json:"list"`
	Updates        []ItemUpdate  `json:"updates"`
	RemovedItemIDs []string      `json:"removed_item_ids,omitempty"`
}

// CompleteListPayload archives the active list.
type CompleteListPayload struct{}

// GenerateListPayload creates a list from stock levels.
type GenerateListPayload struct {
	Merge bool `json:"merge"`
}

func (AddItemPayload) Type() ActionType        { return ActionAddItem }
func (RemoveItemPayload) Type() ActionType     { return ActionRemoveItem }
func (UpdateItemPayload) Type() ActionType     { return ActionUpdateItem }
func (ReplaySnapshotPayload) Type() ActionType { return ActionReplaySnapshot }
func (CompleteListPayload) Type() ActionType   { return ActionCompleteList }
func (GenerateListPayload) Type() ActionType   { return ActionGenerateList }

func (p AddItemPayload) clonePayload() ActionPayload {
	if p.Item != nil {
		item := p.Item.Clone()
		p.Item = &item
	}
	return p
}

func (p RemoveItemPayload) clonePayload() ActionPayload {
	p.ItemIDs = append([]string{}, p.ItemIDs...)
	return p
}

func (p UpdateItemPayload) clonePayload() ActionPayload {
	p.Updates = append([]ItemUpdate{}, p.Updates...)
	return p
}

func (p ReplaySnapshotPayload) clonePayload() ActionPayload {
	p.List = p.List.Clone()
	p.Updates = append([]ItemUpdate{}, p.Updates...)
	p.RemovedItemIDs = append([]string{}, p.RemovedItemIDs...)
	return p
}

func (p CompleteListPayload) clonePayload() ActionPayload { return p }
func (p GenerateListPayload) clonePayload() ActionPayload { return p }

// PendingAction is a queued mutation waiting to reach the server.
type PendingAction struct {
	ID           string
	InstanceID   string
	Timestamp    time.Time
	FailureCount int
	Payload      ActionPayload
}

// NewAction creates a pending action with a fresh queue-local id.
func NewAction(instanceID string, payload ActionPayload, ts time.Time) PendingAction {
	return PendingAction{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Timestamp:  ts,
		Payload:    payload,
	}
}

// Type returns the variant of the action.
func (a PendingAction) Type() ActionType {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.Type()
}

// IsBarrier reports whether the action fixes an ordering point that is
// never merged with its neighbours.
func (a PendingAction) IsBarrier() bool {
	switch a.Type() {
	case ActionReplaySnapshot, ActionCompleteList, ActionGenerateList:
		return true
	default:
		return false
	}
}

// IsGranular reports whether the action is an item-level edit.
func (a PendingAction) IsGranular() bool {
	switch a.Type() {
	case ActionAddItem, ActionRemoveItem, ActionUpdateItem:
		return true
	default:
		return false
	}
}

// Clone creates a deep copy of the action.
func (a PendingAction) Clone() PendingAction {
	if a.Payload != nil {
		a.Payload = a.Payload.clonePayload()
	}
	return a
}

// Validate rejects actions the queue must never hold.
func (a PendingAction) Validate() error {
	if strings.TrimSpace(a.InstanceID) == "" {
		return &ValidationError{Field: "instance_id", Message: "is required"}
	}

	switch p := a.Payload.(type) {
	case AddItemPayload:
		if p.ProductID <= 0 {
			return &ValidationError{Field: "product_id", Message: "must be positive"}
		}
		if p.Quantity <= 0 {
			return &ValidationError{Field: "quantity", Message: "must be positive"}
		}
	case RemoveItemPayload:
		if len(p.ItemIDs) == 0 {
			return &ValidationError{Field: "item_ids", Message: "cannot be empty"}
		}
	case UpdateItemPayload:
		if err := validateUpdates(p.Updates); err != nil {
			return err
		}
	case ReplaySnapshotPayload:
		if p.List == nil {
			return &ValidationError{Field: "list", Message: "is required"}
		}
		if err := validateUpdates(p.Updates); err != nil {
			return err
		}
	case CompleteListPayload, GenerateListPayload:
	case nil:
		return &ValidationError{Field: "payload", Message: "is required"}
	default:
		return &ValidationError{Field: "payload", Message: fmt.Sprintf("unknown type %T", p)}
	}

	return nil
}

func validateUpdates(updates []ItemUpdate) error {
	for i, u := range updates {
		if strings.TrimSpace(u.ItemID) == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("updates[%d].item_id", i),
				Message: "is required",
			}
		}
	}
	return nil
}

type pendingActionWire struct {
	ID           string          `json:"id"`
	Type         ActionType      `json:"type"`
	InstanceID   string          `json:"instance_id"`
	Timestamp    time.Time       `json:"timestamp"`
	FailureCount int             `json:"failure_count"`
	Payload      json.RawMessage `json:"payload"`
}

// MarshalJSON writes the action with a type discriminator.
func (a PendingAction) MarshalJSON() ([]byte, error) {
	if a.Payload == nil {
		return nil, fmt.Errorf("action %s has no payload", a.ID)
	}

	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", a.Type(), err)
	}

	return json.Marshal(pendingActionWire{
		ID:           a.ID,
		Type:         a.Type(),
		InstanceID:   a.InstanceID,
		Timestamp:    a.Timestamp,
		FailureCount: a.FailureCount,
		Payload:      payload,
	})
}

// UnmarshalJSON decodes the payload based on the type discriminator.
func (a *PendingAction) UnmarshalJSON(data []byte) error {
	var wire pendingActionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("parse pending action: %w", err)
	}

	payload, err := ParseActionPayload(wire.Type, wire.Payload)
	if err != nil {
		return err
	}

	*a = PendingAction{
		ID:           wire.ID,
		InstanceID:   wire.InstanceID,
		Timestamp:    wire.Timestamp,
		FailureCount: wire.FailureCount,
		Payload:      payload,
	}
	return nil
}

// ParseActionPayload decodes a raw payload for the given action type.
func ParseActionPayload(t ActionType, raw json.RawMessage) (ActionPayload, error) {
	switch t {
	case ActionAddItem:
		var p AddItemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse add_item payload: %w", err)
		}
		return p, nil

	case ActionRemoveItem:
		var p RemoveItemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse remove_item payload: %w", err)
		}
		return p, nil

	case ActionUpdateItem:
		var p UpdateItemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse update_item payload: %w", err)
		}
		return p, nil

	case ActionReplaySnapshot:
		var p ReplaySnapshotPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse replay_snapshot payload: %w", err)
		}
		return p, nil

	case ActionCompleteList:
		return CompleteListPayload{}, nil

	case ActionGenerateList:
		var p GenerateListPayload
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("parse generate_list payload: %w", err)
			}
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
}
