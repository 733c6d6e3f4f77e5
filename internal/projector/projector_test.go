package projector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/projector"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func baseList() *models.ShoppingList {
	return &models.ShoppingList{
		ID:             "list-1",
		InstanceID:     "pantry",
		Version:        4,
		LastModifiedAt: now.Add(-time.Hour),
		Items: []models.ShoppingListItem{
			{ID: "a", ProductID: 1, Status: models.ItemPending},
			{ID: "b", ProductID: 2, Status: models.ItemPending},
		},
		LocationOrder: []string{},
	}
}

func action(p models.ActionPayload) models.PendingAction {
	return models.NewAction("pantry", p, now)
}

func TestApplyAddItem(t *testing.T) {
	item := models.NewTempItem(42, 2, nil, now)
	add := action(models.AddItemPayload{ProductID: 42, Quantity: 2, Item: &item})

	list := baseList()
	out := projector.Apply(list, add, now)

	require.Len(t, out.Items, 3)
	assert.Equal(t, item.ID, out.Items[2].ID)
	assert.Equal(t, 5, out.Version)
	assert.Equal(t, now, out.LastModifiedAt)
	assert.Len(t, list.Items, 2, "input untouched")

	again := projector.Apply(out, add, now)
	assert.Len(t, again.Items, 3, "same item is not added twice")
}

func TestApplyAddItemWithoutEnrichment(t *testing.T) {
	out := projector.Apply(baseList(), action(models.AddItemPayload{ProductID: 9, Quantity: 1}), now)

	require.Len(t, out.Items, 3)
	assert.True(t, models.IsTempID(out.Items[2].ID))
	assert.Equal(t, 9, out.Items[2].ProductID)
}

func TestApplyRemoveItems(t *testing.T) {
	out := projector.Apply(baseList(), action(models.RemoveItemPayload{ItemIDs: []string{"b", "zzz"}}), now)

	require.Len(t, out.Items, 1)
	assert.Equal(t, "a", out.Items[0].ID)
	assert.Equal(t, 5, out.Version)
}

func TestApplyUpdateItems(t *testing.T) {
	tests := []struct {
		name   string
		start  func(*models.ShoppingList)
		update models.ItemUpdate
		check  func(t *testing.T, item models.ShoppingListItem)
	}{
		{
			name:   "purchase stamps checked_at",
			update: models.StatusUpdate("a", models.ItemPurchased, now),
			check: func(t *testing.T, item models.ShoppingListItem) {
				assert.Equal(t, models.ItemPurchased, item.Status)
				require.NotNil(t, item.CheckedAt)
				assert.Equal(t, now, *item.CheckedAt)
			},
		},
		{
			name: "pending clears checked_at",
			start: func(l *models.ShoppingList) {
				ts := now.Add(-time.Minute)
				l.Items[0].Status = models.ItemPurchased
				l.Items[0].CheckedAt = &ts
			},
			update: models.StatusUpdate("a", models.ItemPending, now),
			check: func(t *testing.T, item models.ShoppingListItem) {
				assert.Equal(t, models.ItemPending, item.Status)
				assert.Nil(t, item.CheckedAt)
			},
		},
		{
			name:   "quantity set then nulled",
			update: models.ItemUpdate{ItemID: "a", QuantityPurchased: models.Null[float64]()},
			start: func(l *models.ShoppingList) {
				q := 3.0
				l.Items[0].QuantityPurchased = &q
			},
			check: func(t *testing.T, item models.ShoppingListItem) {
				assert.Nil(t, item.QuantityPurchased)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := baseList()
			if tt.start != nil {
				tt.start(list)
			}

			out := projector.Apply(list, action(models.UpdateItemPayload{Updates: []models.ItemUpdate{tt.update}}), now)
			tt.check(t, out.Items[0])
			assert.Equal(t, 5, out.Version)
		})
	}
}

func TestApplyUpdateUnknownItemStillBumpsVersion(t *testing.T) {
	out := projector.Apply(baseList(), action(models.UpdateItemPayload{
		Updates: []models.ItemUpdate{models.StatusUpdate("nope", models.ItemPurchased, now)},
	}), now)

	assert.Equal(t, baseList().Items, out.Items)
	assert.Equal(t, 5, out.Version)
}

func TestApplyCompleteList(t *testing.T) {
	assert.Nil(t, projector.Apply(baseList(), action(models.CompleteListPayload{}), now))
}

func TestApplyGenerateListLeavesListUnchanged(t *testing.T) {
	out := projector.Apply(baseList(), action(models.GenerateListPayload{}), now)
	assert.Equal(t, baseList(), out)
}

func TestApplyReplaySnapshotIsAuthoritative(t *testing.T) {
	snap := &models.ShoppingList{
		ID:         "list-1",
		InstanceID: "pantry",
		Version:    2,
		Items:      []models.ShoppingListItem{{ID: "z", ProductID: 26, Status: models.ItemPurchased}},

		LocationOrder: []string{},
	}

	out := projector.Apply(baseList(), action(models.ReplaySnapshotPayload{List: snap}), now)
	assert.Equal(t, snap, out)
	assert.NotSame(t, snap, out)

	assert.Equal(t, snap, projector.Apply(nil, action(models.ReplaySnapshotPayload{List: snap}), now))
}

func TestApplyNilList(t *testing.T) {
	assert.Nil(t, projector.Apply(nil, action(models.RemoveItemPayload{ItemIDs: []string{"a"}}), now))
}

func TestApplyAllOfflineScenario(t *testing.T) {
	out := projector.ApplyAll(baseList(), []models.PendingAction{
		action(models.UpdateItemPayload{Updates: []models.ItemUpdate{models.StatusUpdate("a", models.ItemPurchased, now)}}),
		action(models.RemoveItemPayload{ItemIDs: []string{"b"}}),
	}, now)

	require.Len(t, out.Items, 1)
	assert.Equal(t, "a", out.Items[0].ID)
	assert.Equal(t, models.ItemPurchased, out.Items[0].Status)
	assert.Equal(t, 6, out.Version)
}
