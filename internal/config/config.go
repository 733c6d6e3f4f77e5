package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Inventory service
	API APIConfig `json:"api" mapstructure:"api"`

	// Local snapshot persistence
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Queue replay behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`

	// Development options
	Dev DevConfig `json:"dev,omitempty" mapstructure:"dev"`
}

// APIConfig for inventory service communication.
type APIConfig struct {
	BaseURL      string        `json:"base_url" mapstructure:"base_url"`
	Token        string        `json:"token,omitempty" mapstructure:"token"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	UserAgent    string        `json:"user_agent" mapstructure:"user_agent"`
	PresencePath string        `json:"presence_path" mapstructure:"presence_path"`
}

// StorageConfig for the local snapshot store.
type StorageConfig struct {
	DataDir    string `json:"data_dir" mapstructure:"data_dir"`       // Base directory for all data
	Backend    string `json:"backend" mapstructure:"backend"`         // json, sqlite, memory
	SQLitePath string `json:"sqlite_path" mapstructure:"sqlite_path"` // Database file for the sqlite backend
}

// SyncConfig for offline queue replay.
type SyncConfig struct {
	RetryBudget       int           `json:"retry_budget" mapstructure:"retry_budget"`             // Attempts before a transient action is dropped
	RefreshAttempts   int           `json:"refresh_attempts" mapstructure:"refresh_attempts"`     // Post-drain list refresh tries
	RefreshBackoff    time.Duration `json:"refresh_backoff" mapstructure:"refresh_backoff"`       // Initial refresh retry delay
	DrainInterval     time.Duration `json:"drain_interval" mapstructure:"drain_interval"`         // Background drain cadence
	SnapshotThreshold int           `json:"snapshot_threshold" mapstructure:"snapshot_threshold"` // Queued edits before an offline snapshot cutover
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stdout)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
}

// DevConfig for development/debugging.
type DevConfig struct {
	InsecureSkipVerify bool `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// Storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".shopsync"

	return &Config{
		API: APIConfig{
			BaseURL:      "http://localhost:8080/api",
			Timeout:      15 * time.Second,
			MaxRetries:   3,
			RetryDelay:   500 * time.Millisecond,
			UserAgent:    "shopsync/1.0",
			PresencePath: "/ws/presence",
		},
		Storage: StorageConfig{
			DataDir:    dataDir,
			Backend:    BackendJSON,
			SQLitePath: filepath.Join(dataDir, "snapshots.db"),
		},
		Sync: SyncConfig{
			RetryBudget:       3,
			RefreshAttempts:   3,
			RefreshBackoff:    200 * time.Millisecond,
			DrainInterval:     30 * time.Second,
			SnapshotThreshold: 10,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}

	validBackends := map[string]bool{
		BackendJSON: true, BackendSQLite: true, BackendMemory: true,
	}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Sync.RetryBudget <= 0 {
		return errors.New("sync.retry_budget must be positive")
	}

	if c.Sync.RefreshAttempts <= 0 {
		return errors.New("sync.refresh_attempts must be positive")
	}

	if c.Sync.SnapshotThreshold < 0 {
		return errors.New("sync.snapshot_threshold cannot be negative")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDir}

	if c.Storage.Backend == BackendSQLite {
		dirs = append(dirs, filepath.Dir(c.Storage.SQLitePath))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
