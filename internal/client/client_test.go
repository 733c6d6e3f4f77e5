package client

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/creds"
	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/state"
	"github.com/TheMichaelB/shopsync/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Sync.RefreshBackoff = time.Millisecond
	return cfg
}

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func TestReconnectReplaysQueue(t *testing.T) {
	server := transport.NewMockTransport()
	list := models.NewShoppingList("list-1", "pantry")
	list.Items = []models.ShoppingListItem{{ID: "a", ProductID: 1, Status: models.ItemPending}}
	server.SetList(list)

	c := build(testConfig(t), Options{Offline: true}, server, state.NewMemoryBackend(), testLogger())
	defer c.Close()

	require.True(t, c.Store.SaveList(list))
	_, err := c.Lists.UpdateItems(context.Background(), "pantry", []models.ItemUpdate{
		models.StatusUpdate("a", models.ItemPurchased, time.Time{}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Queue.Len())
	assert.Empty(t, server.CallOps())

	c.Monitor.SetOnline(true)
	c.Sync.Wait()

	assert.Equal(t, 0, c.Queue.Len())
	assert.Equal(t, models.ItemPurchased, server.List("pantry").Items[0].Status)
}

func TestNewAndMigrate(t *testing.T) {
	cfg := testConfig(t)

	c, err := New(cfg, Options{}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Store.SaveList(models.NewShoppingList("list-1", "pantry")))
	require.True(t, c.Store.SaveList(models.NewShoppingList("list-2", "garage")))

	n, err := c.MigrateStore(config.BackendJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst, err := state.NewJSONFileBackend(cfg.Storage.DataDir, testLogger())
	require.NoError(t, err)
	keys, err := dst.Keys(state.ListKey(""))
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	_, err = c.MigrateStore(config.BackendMemory)
	assert.Error(t, err)
}

func TestWatchNeedsTransport(t *testing.T) {
	c := build(testConfig(t), Options{}, transport.NewMockTransport(), state.NewMemoryBackend(), testLogger())
	defer c.Close()

	assert.Error(t, c.Watch(context.Background()))
}

func TestLoginStoresCredentials(t *testing.T) {
	cfg := testConfig(t)

	c, err := New(cfg, Options{}, testLogger())
	require.NoError(t, err)
	assert.Empty(t, c.DefaultInstance())

	require.NoError(t, c.Login("secret", "pantry"))
	assert.Equal(t, "secret", c.transport.GetToken())
	require.NoError(t, c.Close())

	// A new client picks the saved token up
	c, err = New(cfg, Options{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "pantry", c.DefaultInstance())
	assert.Equal(t, "secret", c.transport.GetToken())

	require.NoError(t, c.Logout())
	assert.Empty(t, c.DefaultInstance())
	assert.Empty(t, c.transport.GetToken())
	require.NoError(t, c.Close())
}

func TestCredentialsForOtherServiceIgnored(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, creds.Save(creds.Path(cfg.Storage.DataDir), &creds.Credentials{
		Token:   "secret",
		BaseURL: "http://elsewhere/api",
	}))

	c, err := New(cfg, Options{}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.transport.GetToken())
}

func TestConfiguredTokenWins(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Token = "from-config"
	require.NoError(t, creds.Save(creds.Path(cfg.Storage.DataDir), &creds.Credentials{Token: "saved"}))

	c, err := New(cfg, Options{}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "from-config", c.transport.GetToken())
}
