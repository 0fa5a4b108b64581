// Package redis provides a redis-backed credential store for sessiongate,
// for deployments where the frontend process is not the durable home of the
// session (shared hosts, kiosk fleets).
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/refearn/sessiongate"
)

// The persisted layout is two keys - the token and the serialized profile -
// mirroring the durable contract of the platform frontend.
const (
	tokenKeySuffix   = ":token"
	profileKeySuffix = ":profile"
)

const opTimeout = 5 * time.Second

// CredentialStore persists the credential record in redis under a key prefix.
type CredentialStore struct {
	client *redis.Client
	prefix string
}

// NewCredentialStore creates a redis-backed store. prefix namespaces the two
// keys; it defaults to "sessiongate".
func NewCredentialStore(client *redis.Client, prefix string) *CredentialStore {
	if prefix == "" {
		prefix = "sessiongate"
	}
	return &CredentialStore{client: client, prefix: prefix}
}

func (s *CredentialStore) tokenKey() string   { return s.prefix + tokenKeySuffix }
func (s *CredentialStore) profileKey() string { return s.prefix + profileKeySuffix }

// Load reads the stored credential. Returns nil, nil when no token is stored.
func (s *CredentialStore) Load() (*sessiongate.StoredCredential, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	vals, err := s.client.MGet(ctx, s.tokenKey(), s.profileKey()).Result()
	if err != nil {
		return nil, err
	}

	token, _ := vals[0].(string)
	if token == "" {
		return nil, nil
	}
	cred := &sessiongate.StoredCredential{Token: token}
	if profile, ok := vals[1].(string); ok && profile != "" {
		cred.Profile = []byte(profile)
	}
	return cred, nil
}

// Store writes both keys in one transaction, replacing any previous record.
func (s *CredentialStore) Store(cred *sessiongate.StoredCredential) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(), cred.Token, 0)
	if len(cred.Profile) > 0 {
		pipe.Set(ctx, s.profileKey(), string(cred.Profile), 0)
	} else {
		pipe.Del(ctx, s.profileKey())
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Clear removes both keys atomically with a single DEL.
func (s *CredentialStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return s.client.Del(ctx, s.tokenKey(), s.profileKey()).Err()
}
