package state_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/state"
)

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func TestJSONFileBackend(t *testing.T) {
	backend, err := state.NewJSONFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer backend.Close()

	testBackendOperations(t, backend)
}

func TestSQLiteBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshots.db")

	backend, err := state.NewSQLiteBackend(dbPath, testLogger())
	require.NoError(t, err)
	defer backend.Close()

	testBackendOperations(t, backend)
}

func TestMemoryBackend(t *testing.T) {
	testBackendOperations(t, state.NewMemoryBackend())
}

func testBackendOperations(t *testing.T, backend state.Backend) {
	key := state.ListKey("inst-1")

	t.Run("get missing", func(t *testing.T) {
		_, err := backend.Get(key)
		assert.ErrorIs(t, err, state.ErrStateNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, backend.Put(key, []byte(`{"a":1}`)))

		data, err := backend.Get(key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(data))
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, backend.Put(key, []byte(`{"a":2}`)))

		data, err := backend.Get(key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":2}`, string(data))
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, backend.Put(state.ListKey("inst-2"), []byte(`{}`)))
		require.NoError(t, backend.Put(state.QueueKey, []byte(`[]`)))

		keys, err := backend.Keys("shopsync:list:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{state.ListKey("inst-1"), state.ListKey("inst-2")}, keys)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, backend.Delete(key))
		require.NoError(t, backend.Delete(key), "deleting twice is not an error")

		_, err := backend.Get(key)
		assert.ErrorIs(t, err, state.ErrStateNotFound)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				assert.NoError(t, backend.Put(fmt.Sprintf("shopsync:list:c%d", n), []byte(`{}`)))
			}(i)
		}
		wg.Wait()

		keys, err := backend.Keys("shopsync:list:c")
		require.NoError(t, err)
		assert.Len(t, keys, 10)
	})
}

type recordingReporter struct {
	errs []error
}

func (r *recordingReporter) ReportPersistenceFailure(err error) {
	r.errs = append(r.errs, err)
}

func sampleList(instanceID string) *models.ShoppingList {
	qty := 1.5
	checked := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	group := "Dairy"

	return &models.ShoppingList{
		ID:             "list-1",
		InstanceID:     instanceID,
		Version:        3,
		CreatedAt:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		LastModifiedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		LocationOrder:  []string{"loc-a"},
		Items: []models.ShoppingListItem{
			{
				ID:                "item-1",
				ProductID:         10,
				ProductName:       "Milk",
				ProductGroupName:  &group,
				LocationID:        "loc-a",
				LocationName:      "Fridge",
				Status:            models.ItemPurchased,
				QuantitySuggested: 2,
				QuantityPurchased: &qty,
				QuantityUnit:      "l",
				CheckedAt:         &checked,
				ModifiedAt:        checked,
			},
		},
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	store := state.NewSnapshotStore(state.NewMemoryBackend(), nil, testLogger())

	list := sampleList("inst-1")
	require.True(t, store.SaveList(list))

	loaded := store.LoadList("inst-1")
	require.NotNil(t, loaded)
	assert.Equal(t, list, loaded)

	storedAt, ok := store.StoredAt(state.ListKey("inst-1"))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), storedAt, time.Minute)

	assert.Equal(t, []string{"inst-1"}, store.CachedInstances())
}

func TestSnapshotStoreMissing(t *testing.T) {
	store := state.NewSnapshotStore(state.NewMemoryBackend(), nil, testLogger())

	assert.Nil(t, store.LoadList("nope"))

	var out map[string]int
	assert.False(t, store.Read("shopsync:other", &out))
}

func TestSnapshotStoreCorruptEntries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing data", `{"storedAt":"2024-01-01T00:00:00Z"}`},
		{"checksum mismatch", `{"storedAt":"2024-01-01T00:00:00Z","data":{"id":"x"},"checksum":"deadbeef"}`},
		{"wrong shape", `{"storedAt":"2024-01-01T00:00:00Z","data":[1,2,3]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := state.NewMemoryBackend()
			store := state.NewSnapshotStore(backend, nil, testLogger())
			key := state.ListKey("inst-1")

			require.NoError(t, backend.Put(key, []byte(tt.raw)))

			assert.Nil(t, store.LoadList("inst-1"))

			_, err := backend.Get(key)
			assert.ErrorIs(t, err, state.ErrStateNotFound, "corrupt entry should be removed")
		})
	}
}

func TestSnapshotStoreWriteFailure(t *testing.T) {
	backend := state.NewMemoryBackend()
	reporter := &recordingReporter{}
	store := state.NewSnapshotStore(backend, reporter, testLogger())

	backend.FailWrites(true)
	assert.False(t, store.SaveList(sampleList("inst-1")))
	require.Len(t, reporter.errs, 1)
	assert.True(t, errors.Is(reporter.errs[0], state.ErrWriteFailed))

	backend.FailWrites(false)
	assert.True(t, store.SaveList(sampleList("inst-1")))
	assert.Len(t, reporter.errs, 1)
}

func TestSnapshotStoreHoldsUnsavedList(t *testing.T) {
	backend := state.NewMemoryBackend()
	store := state.NewSnapshotStore(backend, nil, testLogger())

	saved := sampleList("inst-1")
	require.True(t, store.SaveList(saved))

	backend.FailWrites(true)
	edited := sampleList("inst-1")
	edited.Version = saved.Version + 1
	edited.Items = nil
	require.False(t, store.SaveList(edited))

	loaded := store.LoadList("inst-1")
	require.NotNil(t, loaded)
	assert.Equal(t, edited.Version, loaded.Version)
	assert.Empty(t, loaded.Items)

	loaded.Version = 99
	assert.Equal(t, edited.Version, store.LoadList("inst-1").Version, "callers get a copy")

	require.False(t, store.SaveList(sampleList("inst-2")))
	assert.ElementsMatch(t, []string{"inst-1", "inst-2"}, store.CachedInstances())

	reopened := state.NewSnapshotStore(backend, nil, testLogger())
	assert.Equal(t, saved.Version, reopened.LoadList("inst-1").Version, "only the last good write is on disk")

	backend.FailWrites(false)
	refreshed := sampleList("inst-1")
	refreshed.Version = saved.Version + 5
	require.True(t, store.SaveList(refreshed))
	assert.Equal(t, refreshed.Version, store.LoadList("inst-1").Version)
	assert.Equal(t, refreshed.Version, reopened.LoadList("inst-1").Version)

	store.ClearList("inst-2")
	assert.Nil(t, store.LoadList("inst-2"))
}

func TestSnapshotStoreUnencodableValue(t *testing.T) {
	reporter := &recordingReporter{}
	store := state.NewSnapshotStore(state.NewMemoryBackend(), reporter, testLogger())

	assert.False(t, store.Write("shopsync:bad", make(chan int)))
	assert.Len(t, reporter.errs, 1)
}

func TestSnapshotStoreClear(t *testing.T) {
	store := state.NewSnapshotStore(state.NewMemoryBackend(), nil, testLogger())

	require.True(t, store.SaveList(sampleList("inst-1")))
	store.ClearList("inst-1")
	assert.Nil(t, store.LoadList("inst-1"))
	assert.Empty(t, store.CachedInstances())
}

func TestJSONFileBackendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	backend, err := state.NewJSONFileBackend(dir, testLogger())
	require.NoError(t, err)
	store := state.NewSnapshotStore(backend, nil, testLogger())
	require.True(t, store.SaveList(sampleList("inst-1")))

	reopened, err := state.NewJSONFileBackend(dir, testLogger())
	require.NoError(t, err)
	loaded := state.NewSnapshotStore(reopened, nil, testLogger()).LoadList("inst-1")
	require.NotNil(t, loaded)
	assert.Equal(t, 3, loaded.Version)

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp-")
	}
}

func TestMigrate(t *testing.T) {
	src := state.NewMemoryBackend()
	srcStore := state.NewSnapshotStore(src, nil, testLogger())
	require.True(t, srcStore.SaveList(sampleList("inst-1")))
	require.True(t, srcStore.SaveList(sampleList("inst-2")))
	require.True(t, srcStore.Write(state.QueueKey, []string{}))

	dst, err := state.NewSQLiteBackend(filepath.Join(t.TempDir(), "snapshots.db"), testLogger())
	require.NoError(t, err)
	defer dst.Close()

	copied, err := state.Migrate(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, copied)

	dstStore := state.NewSnapshotStore(dst, nil, testLogger())
	assert.Equal(t, srcStore.LoadList("inst-2"), dstStore.LoadList("inst-2"))
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
		wantErr bool
	}{
		{config.BackendJSON, false},
		{config.BackendSQLite, false},
		{config.BackendMemory, false},
		{"redis", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			backend, err := state.OpenBackend(config.StorageConfig{
				DataDir:    filepath.Join(dir, tt.backend),
				Backend:    tt.backend,
				SQLitePath: filepath.Join(dir, "snapshots.db"),
			}, testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, backend.Close())
		})
	}
}
