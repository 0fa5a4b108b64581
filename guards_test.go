package sessiongate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newResolvedMachine(t *testing.T, user *UserProfile) *Machine {
	t.Helper()
	m := NewMachine(NewMemoryCredentialStore(), newAuthedAPI())
	if user == nil {
		m.Initialize(context.Background())
		return m
	}
	if err := m.Authenticate(context.Background(), "tok-1", user); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	return m
}

var protected = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("protected content"))
})

func TestRequireAuthenticated_LoadingWhileInitializing(t *testing.T) {
	// A machine that never resolves: the guard must render loading, not
	// protected content and not a redirect.
	m := NewMachine(NewMemoryCredentialStore(), &stubAPI{})
	g := &Guards{Machine: m, ResolveTimeout: 20 * time.Millisecond}

	req := httptest.NewRequest("GET", "/dashboard", nil)
	w := httptest.NewRecorder()
	g.RequireAuthenticated(protected).ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, "protected content") {
		t.Error("protected content rendered while initializing")
	}
	if w.Header().Get("Location") != "" {
		t.Error("redirect issued while initializing")
	}
	if !strings.Contains(body, "Loading") {
		t.Errorf("loading view not rendered, body: %s", body)
	}
}

func TestRequireAuthenticated_RedirectsAnonymous(t *testing.T) {
	m := newResolvedMachine(t, nil)
	g := &Guards{Machine: m}

	req := httptest.NewRequest("GET", "/dashboard?tab=earnings", nil)
	w := httptest.NewRecorder()
	g.RequireAuthenticated(protected).ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/login?callbackURL=") {
		t.Errorf("Location = %q, want login redirect with callbackURL", loc)
	}
	if !strings.Contains(loc, "%2Fdashboard") {
		t.Errorf("Location = %q does not carry the requested location", loc)
	}
}

func TestRequireAuthenticated_RendersForMember(t *testing.T) {
	m := newResolvedMachine(t, &UserProfile{ID: "u1", Role: "member"})
	g := &Guards{Machine: m}

	req := httptest.NewRequest("GET", "/dashboard", nil)
	w := httptest.NewRecorder()
	g.RequireAuthenticated(protected).ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "protected content") {
		t.Errorf("protected content not rendered, body: %s", w.Body.String())
	}
}

func TestRequireAnonymous(t *testing.T) {
	tests := []struct {
		name         string
		user         *UserProfile
		target       string
		wantRedirect string
		wantBody     string
	}{
		{
			name:     "anonymous sees public content",
			user:     nil,
			target:   "/login",
			wantBody: "protected content",
		},
		{
			name:         "member is sent to landing",
			user:         &UserProfile{ID: "u1", Role: "member"},
			target:       "/login",
			wantRedirect: "/",
		},
		{
			name:         "member resumes recorded destination",
			user:         &UserProfile{ID: "u1", Role: "member"},
			target:       "/login?callbackURL=%2Fdashboard",
			wantRedirect: "/dashboard",
		},
		{
			name:         "absolute callback is ignored",
			user:         &UserProfile{ID: "u1", Role: "member"},
			target:       "/login?callbackURL=https%3A%2F%2Fevil.example%2F",
			wantRedirect: "/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Guards{Machine: newResolvedMachine(t, tt.user)}
			req := httptest.NewRequest("GET", tt.target, nil)
			w := httptest.NewRecorder()
			g.RequireAnonymous(protected).ServeHTTP(w, req)

			if tt.wantRedirect != "" {
				if loc := w.Header().Get("Location"); loc != tt.wantRedirect {
					t.Errorf("Location = %q, want %q", loc, tt.wantRedirect)
				}
				return
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	t.Run("anonymous redirects to login", func(t *testing.T) {
		g := &Guards{Machine: newResolvedMachine(t, nil)}
		req := httptest.NewRequest("GET", "/admin", nil)
		w := httptest.NewRecorder()
		g.RequireAdmin(protected).ServeHTTP(w, req)

		if w.Code != http.StatusFound {
			t.Errorf("status = %d, want 302", w.Code)
		}
		if !strings.HasPrefix(w.Header().Get("Location"), "/login?") {
			t.Errorf("Location = %q, want login redirect", w.Header().Get("Location"))
		}
	})

	t.Run("non-admin gets countdown denial, not a redirect", func(t *testing.T) {
		g := &Guards{Machine: newResolvedMachine(t, &UserProfile{ID: "u1", Role: "member"})}
		req := httptest.NewRequest("GET", "/admin", nil)
		w := httptest.NewRecorder()
		g.RequireAdmin(protected).ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
		if w.Header().Get("Location") != "" {
			t.Error("non-admin was redirected immediately instead of seeing the denial view")
		}
		body := w.Body.String()
		if !strings.Contains(body, "Access denied") {
			t.Errorf("denial view missing, body: %s", body)
		}
		// Countdown starts at its fixed initial value and the automatic
		// redirect target is the landing page.
		if !strings.Contains(body, `content="5;url=/"`) {
			t.Errorf("denial view missing 5s auto-redirect, body: %s", body)
		}
		if !strings.Contains(body, `id="countdown">5<`) {
			t.Errorf("visible countdown does not start at 5, body: %s", body)
		}
		if !strings.Contains(body, `href="/"`) {
			t.Error("denial view missing the manual go-back link")
		}
		if strings.Contains(body, "protected content") {
			t.Error("protected content leaked to non-admin")
		}
	})

	t.Run("admin renders protected content", func(t *testing.T) {
		g := &Guards{Machine: newResolvedMachine(t, &UserProfile{ID: "u1", Role: AdminRole})}
		req := httptest.NewRequest("GET", "/admin", nil)
		w := httptest.NewRecorder()
		g.RequireAdmin(protected).ServeHTTP(w, req)

		if !strings.Contains(w.Body.String(), "protected content") {
			t.Errorf("admin did not get protected content, body: %s", w.Body.String())
		}
	})
}

func TestGuard_WaitsForLateResolution(t *testing.T) {
	// Initialization resolving while the guard waits must produce the final
	// decision, not the loading view.
	store := NewMemoryCredentialStore()
	store.Store(&StoredCredential{
		Token:   "tok-1",
		Profile: mustProfileJSON(t, &UserProfile{ID: "u1", Name: "Amina", Role: "member"}),
	})
	m := NewMachine(store, newAuthedAPI())
	g := &Guards{Machine: m, ResolveTimeout: time.Second}

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Initialize(context.Background())
	}()

	req := httptest.NewRequest("GET", "/dashboard", nil)
	w := httptest.NewRecorder()
	g.RequireAuthenticated(protected).ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "protected content") {
		t.Errorf("late resolution did not render protected content, body: %s", w.Body.String())
	}
}
