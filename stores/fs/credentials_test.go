package fs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/refearn/sessiongate"
)

func TestCredentialStore_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewCredentialStore() error = %v", err)
	}

	// Absent file reads as "no credential", not an error.
	cred, err := store.Load()
	if err != nil || cred != nil {
		t.Fatalf("Load() on empty store = %+v, %v; want nil, nil", cred, err)
	}

	want := &sessiongate.StoredCredential{
		Token:   "tok-1",
		Profile: json.RawMessage(`{"id":"u1","name":"Amina"}`),
	}
	if err := store.Store(want); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	cred, err = store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred.Token != "tok-1" {
		t.Errorf("Token = %q, want tok-1", cred.Token)
	}
	user, err := cred.User()
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if user.ID != "u1" || user.Name != "Amina" {
		t.Errorf("User() = %+v", user)
	}
}

func TestCredentialStore_StoreOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, _ := NewCredentialStore(path, "")

	store.Store(&sessiongate.StoredCredential{Token: "old", Profile: json.RawMessage(`{"id":"u1"}`)})
	if err := store.Store(&sessiongate.StoredCredential{Token: "new"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred.Token != "new" || len(cred.Profile) != 0 {
		t.Errorf("overwrite left partial state: %+v", cred)
	}
}

func TestCredentialStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, _ := NewCredentialStore(path, "")

	// Clearing an empty store is fine.
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() on empty store error = %v", err)
	}

	store.Store(&sessiongate.StoredCredential{Token: "tok-1"})
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("credential file survived Clear()")
	}
	if cred, err := store.Load(); err != nil || cred != nil {
		t.Errorf("Load() after Clear() = %+v, %v; want nil, nil", cred, err)
	}
}

func TestCredentialStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store, _ := NewCredentialStore(path, "")
	if err := store.Store(&sessiongate.StoredCredential{Token: "tok-1"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if got := info.Mode().Perm(); got != 0600 {
		t.Errorf("file mode = %o, want 0600", got)
	}
}

func TestCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	store, _ := NewCredentialStore(path, "")
	if _, err := store.Load(); err == nil {
		t.Error("Load() accepted a corrupt credential file")
	}
}
