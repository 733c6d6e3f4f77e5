package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Backend persists opaque bytes by key.
type Backend interface {
	// Get returns the stored bytes or ErrStateNotFound.
	Get(key string) ([]byte, error)

	// Put stores data under key, replacing any previous value.
	Put(key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns every stored key with the given prefix.
	Keys(prefix string) ([]string, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state entry is corrupt")
)

// Key layout shared by the list cache and the action queue.
const (
	keyNamespace  = "shopsync:"
	listKeyPrefix = keyNamespace + "list:"

	// QueueKey holds the global pending-action queue.
	QueueKey = keyNamespace + "queue"
)

// ListKey returns the snapshot key for an instance.
func ListKey(instanceID string) string {
	return listKeyPrefix + instanceID
}

// Envelope is the persisted wrapper around every value.
type Envelope struct {
	StoredAt time.Time       `json:"storedAt"`
	Data     json.RawMessage `json:"data"`
	Checksum string          `json:"checksum,omitempty"`
}

// Migrate copies every entry from one backend to another and returns the
// number of entries copied.
func Migrate(from, to Backend) (int, error) {
	keys, err := from.Keys(keyNamespace)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}

	copied := 0
	for _, key := range keys {
		data, err := from.Get(key)
		if errors.Is(err, ErrStateNotFound) {
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("read %s: %w", key, err)
		}

		if err := to.Put(key, data); err != nil {
			return copied, fmt.Errorf("write %s: %w", key, err)
		}
		copied++
	}

	return copied, nil
}
