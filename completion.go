package sessiongate

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexedwards/scs/v2"
)

// Query parameters of the external-auth completion redirect contract. The
// backend redirects the browser here after the provider flow finishes,
// carrying the outcome in the query string.
const (
	ParamSuccess = "gAuthSuccess"
	ParamFailure = "gAuthFailure"
	ParamToken   = "token"
	ParamUser    = "user"
	ParamError   = "error"
)

// Failure codes the backend attaches to registration completion redirects.
const (
	FailureCodeExistsWithPassword = "user_exists_with_password"
	FailureCodeAuthError          = "auth_error"
)

// User-facing messages for completion failures.
const (
	// MsgExistsWithPassword instructs the user to use password login; kept
	// distinct from the generic message so the actionable case stands out.
	MsgExistsWithPassword = "This email is already registered with a password. Please sign in with your email and password instead."

	// MsgProviderError covers provider-side authentication errors.
	MsgProviderError = "Google could not authenticate your account. Please try again."

	// MsgCompletionGeneric is the composite fallback covering both known
	// causes when the backend gives no usable reason.
	MsgCompletionGeneric = "We could not complete Google sign-in. The email may already be registered with a password, or the provider returned an error. Please try again or use password login."
)

// CompletionKind tags the outcome of parsing a completion redirect.
type CompletionKind int

const (
	// CompletionNotApplicable means the query carried no completion flags:
	// this is an ordinary page view, not a redirect from the backend.
	CompletionNotApplicable CompletionKind = iota
	CompletionSuccess
	CompletionFailure
)

// CompletionOutcome is the parsed result of a completion redirect.
type CompletionOutcome struct {
	Kind CompletionKind

	// Token and User are set on login-completion success.
	Token string
	User  *UserProfile

	// Reason is the raw failure reason string; empty for a bare flag.
	Reason string

	// Code is the registration failure code from the error parameter.
	Code string
}

// ParseCompletion classifies a completion redirect's query parameters into
// one of a closed set of outcomes. It is a pure function of the query bag -
// the side effects of mutating session state and history live in the
// handlers, keeping this independently testable.
func ParseCompletion(q url.Values) CompletionOutcome {
	if q.Get(ParamSuccess) == "true" {
		out := CompletionOutcome{
			Kind:  CompletionSuccess,
			Token: q.Get(ParamToken),
			Code:  q.Get(ParamError),
		}
		if raw := q.Get(ParamUser); raw != "" {
			var u UserProfile
			if err := json.Unmarshal([]byte(raw), &u); err != nil {
				// An undecodable payload routes through the same failure
				// path as an explicit failure parameter.
				slog.Warn("completion user payload undecodable", "err", err)
				return CompletionOutcome{Kind: CompletionFailure}
			}
			out.User = &u
		}
		return out
	}

	if f := q.Get(ParamFailure); f != "" {
		reason := f
		if f == "true" || f == "false" {
			reason = "" // bare boolean flag carries no reason
		}
		return CompletionOutcome{
			Kind:   CompletionFailure,
			Reason: reason,
			Code:   q.Get(ParamError),
		}
	}

	return CompletionOutcome{Kind: CompletionNotApplicable}
}

// LoginFailureMessage maps a login-completion failure reason to a user-facing
// message. The "exists with password" case gets its own instruction, other
// non-trivial reasons are shown verbatim, a bare flag falls back to the
// generic composite message.
func LoginFailureMessage(reason string) string {
	if strings.Contains(strings.ToLower(reason), "exists with password") {
		return MsgExistsWithPassword
	}
	if strings.TrimSpace(reason) != "" {
		return reason
	}
	return MsgCompletionGeneric
}

// SignupFailureMessage maps a registration failure code to one of the closed
// set of reasons. Unknown codes fall back to the composite message.
func SignupFailureMessage(code string) string {
	switch code {
	case FailureCodeExistsWithPassword:
		return MsgExistsWithPassword
	case FailureCodeAuthError:
		return MsgProviderError
	default:
		return MsgCompletionGeneric
	}
}

// Flash keys passed between the completion redirect and the clean URL it is
// replaced with.
const (
	sessionKeyCompletionFlash = "completionFlash"
	sessionKeyLoginNotice     = "loginNotice"
)

// LoginNotice is the message attached to the login entry point after a
// successful registration acknowledgment.
const LoginNotice = "Your account was created. Please sign in."

// PopLoginNotice consumes the notice a completion flow attached for the login
// page, if any.
func PopLoginNotice(session *scs.SessionManager, r *http.Request) string {
	if session == nil {
		return ""
	}
	return session.PopString(r.Context(), sessionKeyLoginNotice)
}

// LoginCompletion handles the login-via-OAuth completion redirect. On success
// it authenticates the session machine exactly like a direct login, then
// replaces the completion URL with its parameter-free form so a page refresh
// cannot replay the completion, acknowledges briefly, and continues to the
// originally intended location. Failures render a dismissible view with a
// "try regular login" path.
type LoginCompletion struct {
	Machine *Machine

	// Session carries the outcome across the redirect to the clean URL and
	// holds the recorded intended destination. Optional: without it the
	// acknowledgment renders on the parameterized URL instead of a clean one.
	Session *scs.SessionManager

	// LandingURL is the default destination. Defaults to "/".
	LandingURL string

	// AckSeconds is the acknowledgment delay before continuing. Defaults to 2.
	AckSeconds int

	// Next renders the page when no completion outcome is present, normally
	// the regular login form. When nil a minimal built-in form is rendered.
	Next http.Handler
}

// EnsureDefaults fills in zero-valued configuration.
func (h *LoginCompletion) EnsureDefaults() *LoginCompletion {
	if h.LandingURL == "" {
		h.LandingURL = "/"
	}
	if h.AckSeconds <= 0 {
		h.AckSeconds = 2
	}
	return h
}

func (h *LoginCompletion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.EnsureDefaults()
	out := ParseCompletion(r.URL.Query())
	switch out.Kind {
	case CompletionSuccess:
		h.completeLogin(w, r, out)
	case CompletionFailure:
		h.fail(w, r, LoginFailureMessage(out.Reason))
	default:
		h.serveClean(w, r)
	}
}

func (h *LoginCompletion) completeLogin(w http.ResponseWriter, r *http.Request, out CompletionOutcome) {
	// All three of the success flag, a token and a user payload are needed.
	if out.Token == "" || out.User == nil {
		h.fail(w, r, MsgCompletionGeneric)
		return
	}
	if err := h.Machine.Authenticate(r.Context(), out.Token, out.User); err != nil {
		slog.Warn("completion authenticate failed", "err", err)
		h.fail(w, r, MsgCompletionGeneric)
		return
	}

	dest := h.LandingURL
	if h.Session != nil {
		if recorded := h.Session.PopString(r.Context(), sessionKeyIntendedURL); recorded != "" {
			dest = recorded
		}
		h.Session.Put(r.Context(), sessionKeyCompletionFlash, "success|"+dest)
		// Replace the completion URL with its clean form; the stored flash
		// survives the redirect, the parameters do not.
		http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
		return
	}
	// Without a session the parameters cannot be stripped first, but the user
	// still gets the brief acknowledgment before continuing on; its redirect
	// uses location.replace, so the completion URL drops out of history.
	h.renderAck(w, dest)
}

func (h *LoginCompletion) fail(w http.ResponseWriter, r *http.Request, message string) {
	if h.Session != nil && r.URL.RawQuery != "" {
		h.Session.Put(r.Context(), sessionKeyCompletionFlash, "failure|"+message)
		http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
		return
	}
	h.renderFailure(w, r, message)
}

// serveClean handles the parameter-free URL: first the flash left behind by a
// just-consumed completion, then the ordinary login page.
func (h *LoginCompletion) serveClean(w http.ResponseWriter, r *http.Request) {
	if h.Session != nil {
		flash := h.Session.PopString(r.Context(), sessionKeyCompletionFlash)
		if kind, value, ok := strings.Cut(flash, "|"); ok {
			if kind == "success" {
				h.renderAck(w, value)
				return
			}
			h.renderFailure(w, r, value)
			return
		}
	}
	if h.Next != nil {
		h.Next.ServeHTTP(w, r)
		return
	}
	h.renderLoginForm(w, r, "")
}

var loginAckTmpl = template.Must(template.New("loginAck").Parse(`<!DOCTYPE html>
<html>
<head>
<meta http-equiv="refresh" content="{{.Seconds}};url={{.Dest}}">
<title>Signed in</title>
</head>
<body>
<h1>Signed in</h1>
<p>Welcome back! Taking you to your dashboard&hellip;</p>
<script>
setTimeout(function () { window.location.replace({{.Dest}}); }, {{.Seconds}} * 1000);
</script>
</body>
</html>
`))

var loginFailureTmpl = template.Must(template.New("loginFailure").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign-in failed</title></head>
<body>
<div id="auth-failure" role="alert">
<h1>Sign-in failed</h1>
<p>{{.Message}}</p>
<p>
<a href="{{.CleanURL}}#email" onclick="var e=document.getElementById('email'); if(e){document.getElementById('auth-failure').hidden=true; e.focus(); return false;}">Try regular login</a>
&middot;
<a href="{{.CleanURL}}">Dismiss</a>
</p>
</div>
{{.Form}}
</body>
</html>
`))

var loginFormTmpl = template.Must(template.New("loginForm").Parse(`<form method="post" action="{{.Action}}">
{{if .Notice}}<p>{{.Notice}}</p>{{end}}
<label>Email <input id="email" name="email" type="email" required></label>
<label>Password <input name="password" type="password" required></label>
<button type="submit">Sign in</button>
</form>
`))

func (h *LoginCompletion) renderAck(w http.ResponseWriter, dest string) {
	if !isLocalURL(dest) {
		dest = h.LandingURL
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = loginAckTmpl.Execute(w, map[string]any{
		"Seconds": h.AckSeconds,
		"Dest":    dest,
	})
}

func (h *LoginCompletion) renderFailure(w http.ResponseWriter, r *http.Request, message string) {
	var form strings.Builder
	_ = loginFormTmpl.Execute(&form, map[string]any{
		"Action": r.URL.Path,
		"Notice": "",
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = loginFailureTmpl.Execute(w, map[string]any{
		"Message":  message,
		"CleanURL": r.URL.Path,
		"Form":     template.HTML(form.String()),
	})
}

func (h *LoginCompletion) renderLoginForm(w http.ResponseWriter, r *http.Request, notice string) {
	if notice == "" {
		notice = PopLoginNotice(h.Session, r)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginFormTmpl.Execute(w, map[string]any{
		"Action": r.URL.Path,
		"Notice": notice,
	})
}

// SignupCompletion handles the registration-via-OAuth completion redirect. It
// is purely informational: it acknowledges success or explains failure, and
// never touches the session machine.
type SignupCompletion struct {
	// Session carries the outcome across the redirect to the clean URL.
	Session *scs.SessionManager

	// LoginURL is where the success acknowledgment sends the user.
	// Defaults to "/login".
	LoginURL string

	// SignupURL is where the failure view offers to retry.
	// Defaults to "/signup".
	SignupURL string

	// Next renders the page when no completion outcome is present.
	Next http.Handler
}

// EnsureDefaults fills in zero-valued configuration.
func (h *SignupCompletion) EnsureDefaults() *SignupCompletion {
	if h.LoginURL == "" {
		h.LoginURL = "/login"
	}
	if h.SignupURL == "" {
		h.SignupURL = "/signup"
	}
	return h
}

func (h *SignupCompletion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.EnsureDefaults()
	out := ParseCompletion(r.URL.Query())
	switch out.Kind {
	case CompletionSuccess:
		if h.Session != nil {
			h.Session.Put(r.Context(), sessionKeyCompletionFlash, "success|")
			http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
			return
		}
		h.renderAck(w, r)
	case CompletionFailure:
		message := SignupFailureMessage(out.Code)
		if h.Session != nil {
			h.Session.Put(r.Context(), sessionKeyCompletionFlash, "failure|"+message)
			http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
			return
		}
		h.renderFailure(w, message)
	default:
		if h.Session != nil {
			flash := h.Session.PopString(r.Context(), sessionKeyCompletionFlash)
			if kind, value, ok := strings.Cut(flash, "|"); ok {
				if kind == "success" {
					h.renderAck(w, r)
				} else {
					h.renderFailure(w, value)
				}
				return
			}
		}
		if h.Next != nil {
			h.Next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, h.SignupURL, http.StatusFound)
	}
}

var signupAckTmpl = template.Must(template.New("signupAck").Parse(`<!DOCTYPE html>
<html>
<head><title>Account created</title></head>
<body>
<h1>Account created</h1>
<p>Your Google account was linked successfully.</p>
<p><a href="{{.LoginURL}}">Continue to sign in</a></p>
</body>
</html>
`))

var signupFailureTmpl = template.Must(template.New("signupFailure").Parse(`<!DOCTYPE html>
<html>
<head><title>Registration failed</title></head>
<body>
<h1>Registration failed</h1>
<p>{{.Message}}</p>
<p><a href="{{.SignupURL}}">Back to signup</a></p>
</body>
</html>
`))

func (h *SignupCompletion) renderAck(w http.ResponseWriter, r *http.Request) {
	// Attach the success message the login page will show after the user
	// confirms the acknowledgment.
	if h.Session != nil {
		h.Session.Put(r.Context(), sessionKeyLoginNotice, LoginNotice)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = signupAckTmpl.Execute(w, map[string]any{"LoginURL": h.LoginURL})
}

func (h *SignupCompletion) renderFailure(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = signupFailureTmpl.Execute(w, map[string]any{
		"Message":   message,
		"SignupURL": h.SignupURL,
	})
}
