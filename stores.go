package sessiongate

import (
	"encoding/json"
	"sync"
)

// StoredCredential is the durable credential record: a bearer token plus the
// last-known profile snapshot. The snapshot is a performance hint only and
// must be revalidated before it is trusted, except as a fallback when
// revalidation fails.
type StoredCredential struct {
	Token   string          `json:"token"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// User decodes the cached profile snapshot. Returns nil, nil when no snapshot
// is stored.
func (c *StoredCredential) User() (*UserProfile, error) {
	if len(c.Profile) == 0 {
		return nil, nil
	}
	var u UserProfile
	if err := json.Unmarshal(c.Profile, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CredentialStore defines the interface for persisting the credential record.
// Implementations must treat Store as a full overwrite and Clear as an atomic
// removal of both the token and the cached profile - no partial writes.
type CredentialStore interface {
	// Load retrieves the stored credential.
	// Returns nil, nil if nothing is stored.
	Load() (*StoredCredential, error)

	// Store persists the credential, replacing any previous record entirely.
	Store(cred *StoredCredential) error

	// Clear removes the credential. Clearing an empty store is not an error.
	Clear() error
}

// MemoryCredentialStore is an in-memory CredentialStore for tests and
// short-lived processes.
type MemoryCredentialStore struct {
	mu   sync.Mutex
	cred *StoredCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load() (*StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, nil
	}
	cp := *s.cred
	return &cp, nil
}

func (s *MemoryCredentialStore) Store(cred *StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.cred = &cp
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}
