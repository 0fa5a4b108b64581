package sessiongate

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
)

// Session keys used by the guards and completion handlers.
const (
	sessionKeyIntendedURL = "intendedURL"
)

// Guards builds the three route-gating policies. Every policy waits for the
// session machine to resolve before making a final decision; while the
// machine is still initializing a loading view is rendered instead of
// guessing. A guard never panics and never leaves a blank page: absence of
// required state always ends in a redirect or a denial view.
type Guards struct {
	Machine *Machine

	// Session records the originally requested URL across a login redirect
	// so it can be resumed afterwards. Optional - without it only the
	// callbackURL query parameter carries the destination.
	Session *scs.SessionManager

	// LoginURL is the login entry point. Defaults to "/login".
	LoginURL string

	// LandingURL is the default post-login destination. Defaults to "/".
	LandingURL string

	// CallbackURLParam is the query parameter carrying the resume URL on
	// login redirects. Defaults to "callbackURL".
	CallbackURLParam string

	// DenialSeconds is the countdown shown to non-admin users on admin
	// routes before the automatic redirect. Defaults to 5.
	DenialSeconds int

	// ResolveTimeout bounds how long a guard waits for initialization
	// before rendering the loading view. Defaults to 3s.
	ResolveTimeout time.Duration
}

// EnsureDefaults fills in zero-valued configuration.
func (g *Guards) EnsureDefaults() *Guards {
	if g.LoginURL == "" {
		g.LoginURL = "/login"
	}
	if g.LandingURL == "" {
		g.LandingURL = "/"
	}
	if g.CallbackURLParam == "" {
		g.CallbackURLParam = "callbackURL"
	}
	if g.DenialSeconds <= 0 {
		g.DenialSeconds = 5
	}
	if g.ResolveTimeout <= 0 {
		g.ResolveTimeout = 3 * time.Second
	}
	return g
}

// RequireAuthenticated renders the protected content only for authenticated
// users. Anonymous visitors are redirected to the login entry point carrying
// the originally requested location.
func (g *Guards) RequireAuthenticated(next http.Handler) http.Handler {
	g.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := g.resolvedSession(r)
		if !ok {
			g.renderLoading(w)
			return
		}
		if sess.User == nil {
			g.redirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAnonymous renders the public content (login/signup forms) only for
// anonymous visitors. Authenticated users are sent to the recorded intended
// destination, or the landing page when none was recorded.
func (g *Guards) RequireAnonymous(next http.Handler) http.Handler {
	g.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := g.resolvedSession(r)
		if !ok {
			g.renderLoading(w)
			return
		}
		if sess.User != nil {
			http.Redirect(w, r, g.popIntendedURL(r), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin renders the protected content only for admin users. Anonymous
// visitors get the same login redirect as RequireAuthenticated. An
// authenticated non-admin is not bounced immediately: an access-denied view
// with a visible countdown is shown, redirecting to the landing page when the
// countdown reaches zero or when the user asks to leave.
func (g *Guards) RequireAdmin(next http.Handler) http.Handler {
	g.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := g.resolvedSession(r)
		if !ok {
			g.renderLoading(w)
			return
		}
		if sess.User == nil {
			g.redirectToLogin(w, r)
			return
		}
		if !sess.IsAdmin() {
			g.renderDenied(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolvedSession waits briefly for initialization to settle. ok is false
// when the machine is still unresolved and the caller must render loading.
func (g *Guards) resolvedSession(r *http.Request) (Session, bool) {
	sess := g.Machine.Snapshot()
	if sess.Resolved() {
		return sess, true
	}

	timer := time.NewTimer(g.ResolveTimeout)
	defer timer.Stop()
	select {
	case <-g.Machine.Resolved():
		return g.Machine.Snapshot(), true
	case <-r.Context().Done():
		return sess, false
	case <-timer.C:
		return sess, false
	}
}

// redirectToLogin records the requested location and bounces to the login
// entry point, callbackURL in hand.
func (g *Guards) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	originalURL := r.URL.RequestURI()
	if g.Session != nil {
		g.Session.Put(r.Context(), sessionKeyIntendedURL, originalURL)
	}
	encodedURL := strings.Replace(url.QueryEscape(originalURL), "+", "%20", -1)
	target := fmt.Sprintf("%s?%s=%s", g.LoginURL, g.CallbackURLParam, encodedURL)
	http.Redirect(w, r, target, http.StatusFound)
}

// popIntendedURL consumes the recorded destination, falling back to the
// callbackURL parameter and finally the landing page.
func (g *Guards) popIntendedURL(r *http.Request) string {
	if g.Session != nil {
		if dest := g.Session.PopString(r.Context(), sessionKeyIntendedURL); dest != "" {
			return dest
		}
	}
	if dest := r.URL.Query().Get(g.CallbackURLParam); dest != "" && isLocalURL(dest) {
		return dest
	}
	return g.LandingURL
}

// isLocalURL rejects absolute redirect targets so recorded destinations
// cannot be abused as open redirects.
func isLocalURL(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/")
}

var loadingTmpl = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html>
<head><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p>Loading your session&hellip;</p></body>
</html>
`))

var deniedTmpl = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html>
<head>
<meta http-equiv="refresh" content="{{.Seconds}};url={{.LandingURL}}">
<title>Access denied</title>
</head>
<body>
<h1>Access denied</h1>
<p>This area is restricted to administrators.</p>
<p>Taking you back in <span id="countdown">{{.Seconds}}</span> seconds&hellip;</p>
<p><a href="{{.LandingURL}}">Go back now</a></p>
<script>
(function () {
  var left = {{.Seconds}};
  var el = document.getElementById("countdown");
  var t = setInterval(function () {
    left--;
    el.textContent = left;
    if (left <= 0) {
      clearInterval(t);
      window.location.replace({{.LandingURL}});
    }
  }, 1000);
})();
</script>
</body>
</html>
`))

func (g *Guards) renderLoading(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = loadingTmpl.Execute(w, nil)
}

func (g *Guards) renderDenied(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusForbidden)
	_ = deniedTmpl.Execute(w, map[string]any{
		"Seconds":    g.DenialSeconds,
		"LandingURL": g.LandingURL,
	})
}
