package sessiongate

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestProviderRedirect(t *testing.T) {
	p := NewGoogleRedirect("client-1", "secret-1", "https://app.example.com/auth/callback")

	req := httptest.NewRequest("GET", "/auth/google?callbackURL=%2Fdashboard", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if loc.Host != "accounts.google.com" {
		t.Errorf("redirect host = %q, want accounts.google.com", loc.Host)
	}
	q := loc.Query()
	if q.Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	state := q.Get("state")
	if state == "" {
		t.Fatal("no state parameter in consent URL")
	}

	var stateCookie, callbackCookie string
	for _, c := range w.Result().Cookies() {
		switch c.Name {
		case "oauthstate":
			stateCookie = c.Value
		case "oauthCallbackURL":
			callbackCookie = c.Value
		}
	}
	if stateCookie != state {
		t.Errorf("state cookie %q does not match consent URL state %q", stateCookie, state)
	}
	if callbackCookie != "/dashboard" {
		t.Errorf("callback cookie = %q, want /dashboard", callbackCookie)
	}
}

func TestProviderRedirect_RejectsAbsoluteCallback(t *testing.T) {
	p := NewGoogleRedirect("client-1", "secret-1", "https://app.example.com/auth/callback")

	req := httptest.NewRequest("GET", "/auth/google?callbackURL=https%3A%2F%2Fevil.example%2F", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == "oauthCallbackURL" {
			t.Errorf("absolute callback URL was recorded: %q", c.Value)
		}
	}
	if !strings.Contains(w.Header().Get("Location"), "state=") {
		t.Error("consent redirect missing state")
	}
}

func TestProviderRedirect_StateIsUnique(t *testing.T) {
	p := NewGoogleRedirect("client-1", "secret-1", "https://app.example.com/auth/callback")

	states := map[string]bool{}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest("GET", "/auth/google", nil))
		loc, _ := url.Parse(w.Header().Get("Location"))
		states[loc.Query().Get("state")] = true
	}
	if len(states) != 3 {
		t.Errorf("states reused across requests: %v", states)
	}
}
