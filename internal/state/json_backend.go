package state

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheMichaelB/shopsync/internal/events"
)

const jsonExt = ".json"

// JSONFileBackend stores one file per key under a directory.
type JSONFileBackend struct {
	baseDir string
	logger  *events.Logger
	mu      sync.RWMutex
}

// NewJSONFileBackend creates a file-based backend rooted at baseDir.
func NewJSONFileBackend(baseDir string, logger *events.Logger) (*JSONFileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONFileBackend{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_backend"),
	}, nil
}

// Get reads the file for key.
func (b *JSONFileBackend) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	return data, nil
}

// Put writes the file for key atomically.
func (b *JSONFileBackend) Put(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(key)

	b.logger.WithFields(map[string]interface{}{
		"key":   key,
		"bytes": len(data),
	}).Debug("Writing state file")

	tmpFile, err := os.CreateTemp(b.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// Delete removes the file for key.
func (b *JSONFileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// Keys lists stored keys with prefix.
func (b *JSONFileBackend) Keys(prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, jsonExt) {
			continue
		}

		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, jsonExt))
		if err != nil {
			continue
		}

		if key := string(decoded); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Close is a no-op for file storage.
func (b *JSONFileBackend) Close() error {
	return nil
}

// path maps a key to a filesystem-safe file name.
func (b *JSONFileBackend) path(key string) string {
	return filepath.Join(b.baseDir, base64.RawURLEncoding.EncodeToString([]byte(key))+jsonExt)
}
