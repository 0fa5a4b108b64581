package sessiongate

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Cookie names used across the redirect into the provider and back. The
// callback URL cookie is deliberately short-lived so stale destinations never
// hijack a later login.
const (
	oauthStateCookie    = "oauthstate"
	oauthCallbackCookie = "oauthCallbackURL"
)

// ProviderRedirect sends the browser into the external identity provider's
// consent flow. The backend performs the code exchange and then redirects
// back to the frontend's completion URL per the completion contract.
type ProviderRedirect struct {
	Config *oauth2.Config

	// CallbackURLParam is the query parameter carrying the URL to resume
	// after the flow completes. Defaults to "callbackURL".
	CallbackURLParam string
}

// NewGoogleRedirect creates a redirect into Google's consent flow. Empty
// arguments fall back to environment variables, following the platform's
// deployment convention.
func NewGoogleRedirect(clientID, clientSecret, redirectURL string) *ProviderRedirect {
	if clientID == "" {
		clientID = os.Getenv("OAUTH2_GOOGLE_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET")
	}
	if redirectURL == "" {
		redirectURL = os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL")
	}
	return &ProviderRedirect{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
	}
}

func (p *ProviderRedirect) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	param := p.CallbackURLParam
	if param == "" {
		param = "callbackURL"
	}

	// Remember where to land after the completion redirect.
	if callbackURL := r.URL.Query().Get(param); callbackURL != "" && isLocalURL(callbackURL) {
		http.SetCookie(w, &http.Cookie{
			Name:    oauthCallbackCookie,
			Value:   callbackURL,
			Path:    "/",
			Expires: time.Now().Add(24 * time.Hour),
			MaxAge:  120, // keep this short
		})
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:    oauthStateCookie,
		Value:   state,
		Path:    "/",
		Expires: time.Now().Add(30 * 24 * time.Hour),
	})

	http.Redirect(w, r, p.Config.AuthCodeURL(state), http.StatusFound)
}
