package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/TheMichaelB/shopsync/internal/connectivity"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/projector"
	"github.com/TheMichaelB/shopsync/internal/queue"
	syncsvc "github.com/TheMichaelB/shopsync/internal/services/sync"
	"github.com/TheMichaelB/shopsync/internal/state"
	"github.com/TheMichaelB/shopsync/internal/transport"
	"github.com/TheMichaelB/shopsync/test/testutil"
)

// offlineEdits returns n alternating status updates and adds for list.
func offlineEdits(list *models.ShoppingList, n int) []models.PendingAction {
	now := time.Now().UTC()
	actions := make([]models.PendingAction, 0, n)
	for i := 0; i < n; i++ {
		var payload models.ActionPayload
		if i%4 == 3 {
			payload = models.AddItemPayload{ProductID: 10000 + i, Quantity: 1}
		} else {
			item := list.Items[i%len(list.Items)]
			payload = models.UpdateItemPayload{Updates: []models.ItemUpdate{
				models.StatusUpdate(item.ID, models.ItemPurchased, now),
			}}
		}
		actions = append(actions, models.NewAction(list.InstanceID, payload, now))
	}
	return actions
}

func BenchmarkCoalesce(b *testing.B) {
	list := testutil.LargeList("bench", 200)

	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("%d_edits", n), func(b *testing.B) {
			edits := offlineEdits(list, n)

			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				var q []models.PendingAction
				for _, a := range edits {
					q = queue.Coalesce(q, a)
				}
			}
		})
	}
}

func BenchmarkProjectQueue(b *testing.B) {
	list := testutil.LargeList("bench", 500)
	edits := offlineEdits(list, 200)
	now := time.Now().UTC()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		projector.ApplyAll(list, edits, now)
	}
}

func BenchmarkDrain(b *testing.B) {
	logger := testutil.NewTestLogger()

	for _, n := range []int{10, 100} {
		b.Run(fmt.Sprintf("%d_edits", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				list := testutil.LargeList("bench", 200)
				server := transport.NewMockTransport()
				server.SetList(list)

				monitor := connectivity.NewMonitor(true, logger)
				store := state.NewSnapshotStore(state.NewMemoryBackend(), monitor, logger)
				q := queue.New(store, logger)
				for _, a := range offlineEdits(list, n) {
					q.Enqueue(a)
				}
				engine := syncsvc.NewEngine(server, q, store, monitor, &syncsvc.SyncConfig{
					RetryBudget:     3,
					RefreshAttempts: 1,
					RefreshBackoff:  time.Millisecond,
				}, logger)
				b.StartTimer()

				if _, err := engine.Drain(context.Background()); err != nil {
					b.Fatal(err)
				}

				b.StopTimer()
				engine.Close()
				b.StartTimer()
			}
		})
	}
}
