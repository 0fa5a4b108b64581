package sessiongate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the authentication state of the current session.
type Status string

const (
	// StatusInitializing means startup has not yet settled on a terminal
	// state. Guards must not make a final rendering decision while the
	// session is initializing.
	StatusInitializing Status = "initializing"

	// StatusAnonymous means no authenticated user is present.
	StatusAnonymous Status = "anonymous"

	// StatusAuthenticated means a user profile is present and usable.
	StatusAuthenticated Status = "authenticated"

	// StatusError is a transient sub-state of initialization cleanup. It is
	// always followed by StatusAnonymous and never persists.
	StatusError Status = "error"
)

// AdminRole is the profile role that grants access to admin-guarded views.
const AdminRole = "admin"

// UserProfile is the member profile as returned by the platform API.
type UserProfile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	DateOfBirth    string `json:"dateOfBirth,omitempty"`
}

// IsAdmin reports whether the profile carries the admin role.
// Safe to call on a nil profile.
func (u *UserProfile) IsAdmin() bool {
	return u != nil && u.Role == AdminRole
}

// Session is an immutable snapshot of the session state. User is non-nil if
// and only if Status is StatusAuthenticated.
type Session struct {
	Status Status
	User   *UserProfile
}

// IsAdmin reports whether an authenticated admin user is present. It is never
// true without User present.
func (s Session) IsAdmin() bool { return s.User.IsAdmin() }

// Resolved reports whether the session has settled on a terminal state.
func (s Session) Resolved() bool {
	return s.Status == StatusAuthenticated || s.Status == StatusAnonymous
}

// IdentityAPI is the slice of the platform API the session machine depends on.
// *APIClient implements it.
type IdentityAPI interface {
	// Me revalidates the token against the identity endpoint and returns the
	// current profile.
	Me(ctx context.Context, token string) (*UserProfile, error)

	// ChangePassword updates the password for the authenticated user.
	ChangePassword(ctx context.Context, token, oldPassword, newPassword string) error
}

// Machine owns the authoritative in-memory session state. All mutations go
// through Initialize, Authenticate and Disconnect; consumers observe state
// via Snapshot, Resolved and Subscribe.
//
// Transitions are applied in the order their triggering operations settle. A
// revalidation result that arrives after a later Authenticate or Disconnect
// is discarded rather than overwriting the newer state.
type Machine struct {
	mu      sync.Mutex
	store   CredentialStore
	api     IdentityAPI
	session Session
	token   string
	epoch   uint64
	subs    map[int]func(Session)
	nextSub int

	resolved     chan struct{}
	resolvedOnce sync.Once
}

// NewMachine creates a session machine in the Initializing state. Call
// Initialize exactly once at startup to settle it.
func NewMachine(store CredentialStore, api IdentityAPI) *Machine {
	return &Machine{
		store:    store,
		api:      api,
		session:  Session{Status: StatusInitializing},
		subs:     make(map[int]func(Session)),
		resolved: make(chan struct{}),
	}
}

// Snapshot returns the current session state.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Token returns the current bearer token, or "" when anonymous.
func (m *Machine) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Resolved returns a channel that is closed once the session has settled on
// a terminal state for the first time.
func (m *Machine) Resolved() <-chan struct{} { return m.resolved }

// WaitResolved blocks until the session resolves or ctx is done.
func (m *Machine) WaitResolved(ctx context.Context) error {
	select {
	case <-m.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a callback invoked after every state transition with
// the new snapshot. The returned function removes the subscription.
func (m *Machine) Subscribe(fn func(Session)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Initialize settles the session from stored credentials. With no token it
// goes straight to Anonymous without a network call. With a token it
// optimistically becomes Authenticated from the cached profile (when one is
// readable) and then always revalidates against the identity endpoint:
//
//   - revalidation succeeds: the fresh profile wins and is re-cached
//   - revalidation fails after a cache hit: the cached profile is kept
//   - revalidation fails with no cache: credentials are cleared, Anonymous
//
// Any unexpected failure along the way clears credential state and lands on
// Anonymous - the machine fails closed, never leaving a caller stuck in
// Initializing.
func (m *Machine) Initialize(ctx context.Context) {
	defer func() {
		if cause := recover(); cause != nil {
			slog.Error("session init panicked, failing closed", "cause", cause)
			m.failClosed()
		}
	}()

	cred, err := m.store.Load()
	if err != nil {
		slog.Warn("credential load failed, failing closed", "err", err)
		m.failClosed()
		return
	}
	if cred == nil || cred.Token == "" {
		m.transition(Session{Status: StatusAnonymous}, "")
		return
	}

	if exp, ok := TokenExpiry(cred.Token); ok && time.Now().After(exp) {
		slog.Info("stored token past its expiry claim, revalidation will decide", "expired_at", exp)
	}

	cached, cacheErr := cred.User()
	if cacheErr != nil {
		slog.Warn("cached profile unreadable, ignoring cache", "err", cacheErr)
	}

	var epoch uint64
	if cached != nil {
		// Optimistic phase: render from cache while the network confirms.
		epoch = m.transition(Session{Status: StatusAuthenticated, User: cached}, cred.Token)
	} else {
		m.mu.Lock()
		m.token = cred.Token
		epoch = m.epoch
		m.mu.Unlock()
	}

	fresh, err := m.api.Me(ctx, cred.Token)
	switch {
	case err == nil:
		m.applyRevalidated(epoch, cred.Token, fresh)
	case cached != nil:
		// Graceful degradation: the stale snapshot keeps the session alive.
		slog.Warn("revalidation failed, keeping cached profile", "err", err)
	default:
		slog.Warn("revalidation failed with no cached profile, failing closed", "err", err)
		m.failClosedAt(epoch)
	}
}

// Authenticate installs a fresh token and profile, as produced by a direct
// login or a completed external auth redirect. The session becomes
// Authenticated synchronously; a background revalidation then refreshes the
// cached copy for consistency.
func (m *Machine) Authenticate(ctx context.Context, token string, user *UserProfile) error {
	if token == "" || user == nil {
		return fmt.Errorf("%w: authenticate requires a token and a profile", ErrValidation)
	}
	profile, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	s := Session{Status: StatusAuthenticated, User: user}
	m.mu.Lock()
	if err := m.store.Store(&StoredCredential{Token: token, Profile: profile}); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to store credential: %w", err)
	}
	epoch, subs := m.applyLocked(s, token)
	m.mu.Unlock()
	m.settle(s, subs)

	// The profile from the login response is already fresh; the background
	// call only keeps the cached copy honest.
	go m.revalidate(context.WithoutCancel(ctx), epoch, token)
	return nil
}

// Disconnect clears stored credentials and moves to Anonymous. It performs no
// network call - logout never depends on API availability - and is idempotent.
func (m *Machine) Disconnect() {
	s := Session{Status: StatusAnonymous}
	m.mu.Lock()
	err := m.store.Clear()
	_, subs := m.applyLocked(s, "")
	m.mu.Unlock()
	if err != nil {
		slog.Warn("credential clear failed during disconnect", "err", err)
	}
	m.settle(s, subs)
}

// ChangePassword delegates to the platform API. Session state is not touched;
// the caller surfaces success or failure to the user.
func (m *Machine) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == "" {
		return fmt.Errorf("%w: no active session", ErrAuthorization)
	}
	return m.api.ChangePassword(ctx, token, oldPassword, newPassword)
}

// transition installs a new session state, bumps the epoch and notifies
// subscribers. Returns the epoch of the new state so async continuations can
// detect being superseded.
func (m *Machine) transition(s Session, token string) uint64 {
	m.mu.Lock()
	epoch, subs := m.applyLocked(s, token)
	m.mu.Unlock()
	m.settle(s, subs)
	return epoch
}

// applyLocked installs a new session state and bumps the epoch. Caller must
// hold m.mu; storage mutations belonging to the transition happen under the
// same hold so the epoch always speaks for the durable state as well. The
// returned subscriber list is notified via settle after unlocking.
func (m *Machine) applyLocked(s Session, token string) (uint64, []func(Session)) {
	m.epoch++
	m.session = s
	m.token = token
	subs := make([]func(Session), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return m.epoch, subs
}

// settle completes a transition outside the lock: resolution signalling and
// subscriber notification.
func (m *Machine) settle(s Session, subs []func(Session)) {
	if s.Resolved() {
		m.resolvedOnce.Do(func() { close(m.resolved) })
	}
	for _, fn := range subs {
		fn(s)
	}
}

// revalidate refreshes the profile in the background after Authenticate.
// Failures are ignored: the login response already provided a fresh profile.
func (m *Machine) revalidate(ctx context.Context, epoch uint64, token string) {
	fresh, err := m.api.Me(ctx, token)
	if err != nil {
		slog.Debug("background revalidation failed, keeping login profile", "err", err)
		return
	}
	m.applyRevalidated(epoch, token, fresh)
}

// applyRevalidated installs a revalidated profile and re-caches it, unless a
// later Authenticate or Disconnect already moved the session on (last write
// wins, judged at resolution time). The staleness check and the cache write
// share one critical section: were the write to happen after a release of the
// lock, a disconnect interleaving between check and write would have its
// Clear overwritten and the credential would resurrect on the next startup.
func (m *Machine) applyRevalidated(epoch uint64, token string, fresh *UserProfile) {
	if fresh == nil {
		return
	}
	profile, merr := json.Marshal(fresh)

	s := Session{Status: StatusAuthenticated, User: fresh}
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		slog.Debug("dropping stale revalidation result")
		return
	}
	err := merr
	if err == nil {
		err = m.store.Store(&StoredCredential{Token: token, Profile: profile})
	}
	m.session = s
	subs := make([]func(Session), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if err != nil {
		slog.Warn("failed to refresh cached profile", "err", err)
	}
	m.settle(s, subs)
}

// failClosed clears all credential state and lands on Anonymous, passing
// through the transient Error state so observers can see the cleanup.
func (m *Machine) failClosed() {
	s := Session{Status: StatusError}
	m.mu.Lock()
	err := m.store.Clear()
	_, subs := m.applyLocked(s, "")
	m.mu.Unlock()
	if err != nil {
		slog.Warn("credential clear failed during cleanup", "err", err)
	}
	m.settle(s, subs)
	m.transition(Session{Status: StatusAnonymous}, "")
}

// failClosedAt fails closed only if no later operation has already moved the
// session on.
func (m *Machine) failClosedAt(epoch uint64) {
	m.mu.Lock()
	stale := m.epoch != epoch
	m.mu.Unlock()
	if stale {
		slog.Debug("dropping stale initialization failure")
		return
	}
	m.failClosed()
}
