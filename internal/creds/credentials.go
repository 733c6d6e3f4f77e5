package creds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the credentials file kept in the data directory.
const FileName = "credentials.json"

// ErrNoCredentials is returned when no credentials file exists.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials hold the service token saved by login.
type Credentials struct {
	Token    string    `json:"token"`
	Instance string    `json:"instance,omitempty"`
	BaseURL  string    `json:"base_url,omitempty"`
	SavedAt  time.Time `json:"saved_at"`
}

// Path returns the credentials file inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Parse decodes credentials and rejects an empty token.
func Parse(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	c.Token = strings.TrimSpace(c.Token)
	if c.Token == "" {
		return nil, errors.New("parse credentials: token is empty")
	}
	return &c, nil
}

// Load reads credentials from path.
func Load(path string) (*Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return Parse(b)
}

// Save writes credentials with owner-only permissions.
func Save(path string, c *Credentials) error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("token is required")
	}
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

// Remove deletes stored credentials. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// Matches reports whether the credentials were saved for baseURL. Credentials
// without a recorded URL match any service.
func (c *Credentials) Matches(baseURL string) bool {
	return c.BaseURL == "" || strings.TrimRight(c.BaseURL, "/") == strings.TrimRight(baseURL, "/")
}
