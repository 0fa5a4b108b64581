// Package gorm provides a GORM-backed credential store for sessiongate,
// for frontends that already carry an embedded database.
package gorm

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/refearn/sessiongate"
)

// CredentialModel is the table layout: one row per profile key.
type CredentialModel struct {
	Key       string `gorm:"primaryKey;size:64"`
	Token     string
	Profile   []byte
	UpdatedAt time.Time
}

func (CredentialModel) TableName() string { return "session_credentials" }

// AutoMigrate runs the migration for the credential table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialModel{})
}

// CredentialStore persists the credential record in a GORM database.
type CredentialStore struct {
	db  *gorm.DB
	key string
}

// NewCredentialStore creates a GORM-backed store. key selects the profile
// row; it defaults to "default".
func NewCredentialStore(db *gorm.DB, key string) *CredentialStore {
	if key == "" {
		key = "default"
	}
	return &CredentialStore{db: db, key: key}
}

// Load reads the stored credential. Returns nil, nil when no row exists.
func (s *CredentialStore) Load() (*sessiongate.StoredCredential, error) {
	var model CredentialModel
	if err := s.db.First(&model, "key = ?", s.key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	if model.Token == "" {
		return nil, nil
	}
	return &sessiongate.StoredCredential{
		Token:   model.Token,
		Profile: model.Profile,
	}, nil
}

// Store upserts the row, replacing any previous record entirely.
func (s *CredentialStore) Store(cred *sessiongate.StoredCredential) error {
	model := &CredentialModel{
		Key:     s.key,
		Token:   cred.Token,
		Profile: cred.Profile,
	}
	if err := s.db.Save(model).Error; err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Clear deletes the row. A missing row is not an error.
func (s *CredentialStore) Clear() error {
	return s.db.Delete(&CredentialModel{}, "key = ?", s.key).Error
}
