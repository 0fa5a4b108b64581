package sessiongate

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func newTestRoutes(t *testing.T) (*Routes, *mux.Router) {
	t.Helper()
	m := newResolvedMachine(t, &UserProfile{ID: "u1", Name: "Amina", Role: "member"})
	rt := &Routes{
		Machine: m,
		Guards:  &Guards{Machine: m},
		Login:   &LoginCompletion{Machine: m},
		Signup:  &SignupCompletion{},
		OAuth:   NewGoogleRedirect("client-1", "secret-1", "https://app.example.com/auth/callback"),
	}
	r := mux.NewRouter()
	rt.Attach(r)
	return rt, r
}

func TestRoutes_Logout(t *testing.T) {
	rt, r := newTestRoutes(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/logout?to=%2Flogin", nil))

	if rt.Machine.Snapshot().Status != StatusAnonymous {
		t.Error("logout did not disconnect the session")
	}
	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want /login", loc)
	}

	// Without a destination the handler acknowledges in place, and an
	// absolute destination is refused.
	for _, target := range []string{"/logout", "/logout?to=https%3A%2F%2Fevil.example%2F"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
		if w.Header().Get("Location") != "" {
			t.Errorf("%s redirected, want inline acknowledgement", target)
		}
		if !strings.Contains(w.Body.String(), "Logged Out") {
			t.Errorf("%s body = %q", target, w.Body.String())
		}
	}
}

func TestRoutes_Attach(t *testing.T) {
	_, r := newTestRoutes(t)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/login", http.StatusOK},
		{"/signup/complete", http.StatusFound}, // bare visit bounces to the signup page
		{"/auth/google", http.StatusFound},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
		if w.Code != tt.wantStatus {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.wantStatus)
		}
	}
}
