package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
)

// FailureReporter is told when a write could not be persisted.
type FailureReporter interface {
	ReportPersistenceFailure(err error)
}

// SnapshotStore reads and writes enveloped JSON values. Reads never fail:
// anything missing or unreadable comes back as absent, and unreadable
// entries are deleted so they cannot fail again.
//
// Lists that could not be persisted are held in memory and served from
// there until a later write or clear for the instance reaches the backend.
type SnapshotStore struct {
	backend  Backend
	reporter FailureReporter
	logger   *events.Logger
	now      func() time.Time

	mu      sync.Mutex
	unsaved map[string]unsavedList
	locks   map[string]*sync.Mutex
}

// unsavedList is a list write the backend rejected. A nil list is a clear
// that could not be persisted.
type unsavedList struct {
	list *models.ShoppingList
	at   time.Time
}

// NewSnapshotStore wraps a backend. reporter may be nil.
func NewSnapshotStore(backend Backend, reporter FailureReporter, logger *events.Logger) *SnapshotStore {
	return &SnapshotStore{
		backend:  backend,
		reporter: reporter,
		logger:   logger.WithField("component", "snapshot_store"),
		now:      func() time.Time { return time.Now().UTC() },
		unsaved:  make(map[string]unsavedList),
		locks:    make(map[string]*sync.Mutex),
	}
}

// OpenBackend creates the backend selected by cfg.
func OpenBackend(cfg config.StorageConfig, logger *events.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendJSON, "":
		return NewJSONFileBackend(cfg.DataDir, logger)
	case config.BackendSQLite:
		return NewSQLiteBackend(cfg.SQLitePath, logger)
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Backend returns the underlying backend.
func (s *SnapshotStore) Backend() Backend {
	return s.backend
}

// Read decodes the value stored under key into out. It reports false when
// the entry is absent or unreadable.
func (s *SnapshotStore) Read(key string, out interface{}) bool {
	_, ok := s.read(key, out)
	return ok
}

// StoredAt returns when key was last written.
func (s *SnapshotStore) StoredAt(key string) (time.Time, bool) {
	var discard json.RawMessage
	return s.read(key, &discard)
}

func (s *SnapshotStore) read(key string, out interface{}) (time.Time, bool) {
	raw, err := s.backend.Get(key)
	if errors.Is(err, ErrStateNotFound) {
		return time.Time{}, false
	}
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to read snapshot")
		return time.Time{}, false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.discard(key, fmt.Errorf("decode envelope: %w", err))
		return time.Time{}, false
	}

	if len(env.Data) == 0 {
		s.discard(key, errors.New("envelope has no data"))
		return time.Time{}, false
	}

	if env.Checksum != "" && env.Checksum != checksum(env.Data) {
		s.discard(key, errors.New("checksum mismatch"))
		return time.Time{}, false
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		s.discard(key, fmt.Errorf("decode data: %w", err))
		return time.Time{}, false
	}

	return env.StoredAt, true
}

// discard deletes a corrupt entry.
func (s *SnapshotStore) discard(key string, cause error) {
	s.logger.WithError(cause).WithField("key", key).Warn("Discarding corrupt snapshot")

	if err := s.backend.Delete(key); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to delete corrupt snapshot")
	}
}

// Write stores value under key. It reports false when the value could not
// be persisted; the failure is forwarded to the reporter.
func (s *SnapshotStore) Write(key string, value interface{}) bool {
	data, err := json.Marshal(value)
	if err != nil {
		s.fail(key, fmt.Errorf("encode value: %w", err))
		return false
	}

	raw, err := json.Marshal(Envelope{
		StoredAt: s.now(),
		Data:     data,
		Checksum: checksum(data),
	})
	if err != nil {
		s.fail(key, fmt.Errorf("encode envelope: %w", err))
		return false
	}

	if err := s.backend.Put(key, raw); err != nil {
		s.fail(key, err)
		return false
	}

	return true
}

func (s *SnapshotStore) fail(key string, err error) {
	s.logger.WithError(err).WithField("key", key).Warn("Failed to persist snapshot")
	if s.reporter != nil {
		s.reporter.ReportPersistenceFailure(err)
	}
}

// Clear removes key.
func (s *SnapshotStore) Clear(key string) {
	s.clear(key)
}

func (s *SnapshotStore) clear(key string) bool {
	if err := s.backend.Delete(key); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to clear snapshot")
		return false
	}
	return true
}

// LoadList returns the cached list for an instance, or nil.
func (s *SnapshotStore) LoadList(instanceID string) *models.ShoppingList {
	if held, ok := s.held(instanceID); ok {
		return held.list.Clone()
	}

	var list models.ShoppingList
	if !s.Read(ListKey(instanceID), &list) {
		return nil
	}
	if list.Items == nil {
		list.Items = []models.ShoppingListItem{}
	}
	return &list
}

// ListStoredAt returns when the instance's cached list was last written.
func (s *SnapshotStore) ListStoredAt(instanceID string) (time.Time, bool) {
	if held, ok := s.held(instanceID); ok {
		return held.at, held.list != nil
	}
	return s.StoredAt(ListKey(instanceID))
}

// SaveList caches list under its instance. When the write fails the list
// is still served by LoadList for the life of the store.
func (s *SnapshotStore) SaveList(list *models.ShoppingList) bool {
	if s.Write(ListKey(list.InstanceID), list) {
		s.release(list.InstanceID)
		return true
	}
	s.hold(list.InstanceID, list.Clone())
	return false
}

// ClearList drops the cached list for an instance.
func (s *SnapshotStore) ClearList(instanceID string) {
	if s.clear(ListKey(instanceID)) {
		s.release(instanceID)
		return
	}
	s.hold(instanceID, nil)
}

// CachedInstances returns the instances with a cached list.
func (s *SnapshotStore) CachedInstances() []string {
	keys, err := s.backend.Keys(listKeyPrefix)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list cached instances")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(keys)+len(s.unsaved))
	ids := make([]string, 0, len(keys)+len(s.unsaved))
	for _, key := range keys {
		id := strings.TrimPrefix(key, listKeyPrefix)
		if held, ok := s.unsaved[id]; ok && held.list == nil {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for id, held := range s.unsaved {
		if held.list != nil && !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// LockList serialises read-modify-write cycles on an instance's cached
// list. It returns the matching unlock. Callers must not hold it across
// network calls.
func (s *SnapshotStore) LockList(instanceID string) func() {
	s.mu.Lock()
	l, ok := s.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[instanceID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *SnapshotStore) held(instanceID string) (unsavedList, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.unsaved[instanceID]
	return held, ok
}

func (s *SnapshotStore) hold(instanceID string, list *models.ShoppingList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsaved[instanceID] = unsavedList{list: list, at: s.now()}
}

func (s *SnapshotStore) release(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unsaved, instanceID)
}

func checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
