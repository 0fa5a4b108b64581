// Package fs provides a file-backed credential store for sessiongate.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/refearn/sessiongate"
)

// CredentialStore persists the credential record as a JSON file on the
// filesystem. Every write replaces the whole file, so there is no torn state
// to recover from.
type CredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewCredentialStore creates a file-backed store.
// If path is empty, defaults to ~/.config/<appName>/session.json
func NewCredentialStore(path string, appName string) (*CredentialStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "refearn"
		}
		path = filepath.Join(configDir, appName, "session.json")
	}
	return &CredentialStore{path: path}, nil
}

// Load reads the stored credential. Returns nil, nil when the file does not
// exist.
func (s *CredentialStore) Load() (*sessiongate.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cred sessiongate.StoredCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return &cred, nil
}

// Store writes the credential, replacing any previous record entirely.
func (s *CredentialStore) Store(cred *sessiongate.StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure directory exists with restricted permissions
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

// Clear removes the credential file. A missing file is not an error.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	return nil
}

// Path returns the path to the credential file.
func (s *CredentialStore) Path() string {
	return s.path
}
