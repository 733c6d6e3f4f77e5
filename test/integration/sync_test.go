//go:build integration
// +build integration

package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/shopsync/internal/client"
	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/test/testutil"
)

const instance = "pantry"

func newClient(t *testing.T, cfg *config.Config, opts client.Options) *client.Client {
	t.Helper()
	c, err := client.New(cfg, opts, testutil.NewTestLogger())
	require.NoError(t, err)
	return c
}

func itemByProduct(list *models.ShoppingList, productID int) *models.ShoppingListItem {
	for i := range list.Items {
		if list.Items[i].ProductID == productID {
			return &list.Items[i]
		}
	}
	return nil
}

func assertNoTempItems(t *testing.T, list *models.ShoppingList) {
	t.Helper()
	for _, item := range list.Items {
		assert.False(t, models.IsTempID(item.ID), "temporary id %s left on list", item.ID)
	}
}

func TestOnlineEditsReachServer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.Inventory.SetList(testutil.SampleList(instance))

	c := newClient(t, testutil.TestConfig(t, server.BaseURL()), client.Options{})
	defer c.Close()

	ctx := context.Background()

	list, err := c.Lists.Load(ctx, instance)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)

	list, err = c.Lists.AddItem(ctx, instance, testutil.Eggs.ID, 12)
	require.NoError(t, err)
	assertNoTempItems(t, list)
	require.NotNil(t, itemByProduct(list, testutil.Eggs.ID))

	_, err = c.Lists.UpdateItems(ctx, instance, []models.ItemUpdate{
		models.StatusUpdate("item-1", models.ItemPurchased, time.Time{}),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, c.Queue.Len())
	remote := server.Inventory.List(instance)
	require.NotNil(t, itemByProduct(remote, testutil.Eggs.ID))
	assert.Equal(t, models.ItemPurchased, itemByProduct(remote, testutil.Milk.ID).Status)
}

func TestOutageEditsReplayAfterReconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.Inventory.SetList(testutil.SampleList(instance))

	c := newClient(t, testutil.TestConfig(t, server.BaseURL()), client.Options{})
	defer c.Close()

	ctx := context.Background()
	_, err := c.Lists.Load(ctx, instance)
	require.NoError(t, err)

	// The service drops off mid-session: the direct call fails and the
	// edit is queued instead of surfacing an error.
	server.SetDown(true)
	list, err := c.Lists.UpdateItems(ctx, instance, []models.ItemUpdate{
		models.StatusUpdate("item-1", models.ItemPurchased, time.Time{}),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ItemPurchased, list.Items[0].Status)
	c.Sync.Wait()
	assert.Equal(t, 1, c.Queue.Len())

	// Once the outage is noticed edits skip the network entirely
	c.Monitor.SetOnline(false)
	list, err = c.Lists.AddItem(ctx, instance, testutil.Flour.ID, 1)
	require.NoError(t, err)
	added := itemByProduct(list, testutil.Flour.ID)
	require.NotNil(t, added)
	assert.True(t, models.IsTempID(added.ID))
	assert.Equal(t, 2, c.Queue.Len())

	server.SetDown(false)
	c.Monitor.SetOnline(true)
	c.Sync.Wait()

	assert.Equal(t, 0, c.Queue.Len())
	remote := server.Inventory.List(instance)
	assert.Equal(t, models.ItemPurchased, itemByProduct(remote, testutil.Milk.ID).Status)
	assert.NotNil(t, itemByProduct(remote, testutil.Flour.ID))

	cached := c.Store.LoadList(instance)
	require.NotNil(t, cached)
	assertNoTempItems(t, cached)
	assert.Len(t, cached.Items, 3)
	assert.False(t, c.Monitor.HadSyncDrop())
}

func TestQueueSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.Inventory.SetList(testutil.SampleList(instance))

	cfg := testutil.TestConfig(t, server.BaseURL())
	cfg.Storage.Backend = config.BackendSQLite

	ctx := context.Background()

	first := newClient(t, cfg, client.Options{})
	_, err := first.Lists.Load(ctx, instance)
	require.NoError(t, err)

	first.Monitor.SetOnline(false)
	_, err = first.Lists.RemoveItems(ctx, instance, []string{"item-2"})
	require.NoError(t, err)
	require.Equal(t, 1, first.Queue.Len())
	require.NoError(t, first.Close())

	second := newClient(t, cfg, client.Options{})
	defer second.Close()
	assert.Equal(t, 1, second.Queue.Len())

	// Loading online replays the queue before fetching
	list, err := second.Lists.Load(ctx, instance)
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 0, second.Queue.Len())
	assert.Nil(t, itemByProduct(server.Inventory.List(instance), testutil.Rice.ID))
}

func TestWatchFollowsPresence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.Inventory.SetList(testutil.SampleList(instance))

	c := newClient(t, testutil.TestConfig(t, server.BaseURL()), client.Options{Offline: true})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	require.Eventually(t, c.Monitor.Online, 5*time.Second, 20*time.Millisecond)

	_, err := c.Lists.Load(ctx, instance)
	require.NoError(t, err)

	server.SetDown(true)
	require.Eventually(t, func() bool { return !c.Monitor.Online() }, 5*time.Second, 20*time.Millisecond)

	_, err = c.Lists.SetLocationChecked(ctx, instance, "fridge", true)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Queue.Len())

	server.SetDown(false)
	require.Eventually(t, func() bool { return c.Queue.Len() == 0 }, 15*time.Second, 50*time.Millisecond)
	assert.Equal(t, models.ItemPurchased, itemByProduct(server.Inventory.List(instance), testutil.Milk.ID).Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStoredTokenIsSent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.Inventory.SetList(testutil.SampleList(instance))
	server.RequireToken("secret")

	cfg := testutil.TestConfig(t, server.BaseURL())
	ctx := context.Background()

	c := newClient(t, cfg, client.Options{})
	_, err := c.Lists.Generate(ctx, instance, true)
	require.Error(t, err)
	assert.True(t, models.IsPermanent(err))

	require.NoError(t, c.Login("secret", instance))
	require.NoError(t, c.Close())

	c = newClient(t, cfg, client.Options{})
	defer c.Close()
	assert.Equal(t, instance, c.DefaultInstance())

	list, err := c.Lists.Load(ctx, instance)
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)
}
