package sessiongate

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// Routes wires the session, completion and provider handlers onto a router.
// Protected application routes are the caller's to register, wrapped in the
// guard policies.
type Routes struct {
	Machine *Machine
	Guards  *Guards
	Login   *LoginCompletion
	Signup  *SignupCompletion

	// OAuth is the redirect into the external provider. Optional: omit it
	// when the backend hosts the provider entry point itself.
	OAuth *ProviderRedirect
}

// Attach registers the handlers:
//
//	GET /login           login page + login-completion redirect target
//	GET /signup/complete registration-completion redirect target
//	GET /logout          disconnect, then optional "to" redirect
//	GET /auth/google     redirect into the provider (when OAuth is set)
func (rt *Routes) Attach(r *mux.Router) {
	r.Handle("/login", rt.Login)
	r.Handle("/signup/complete", rt.Signup)
	r.HandleFunc("/logout", rt.handleLogout)
	if rt.OAuth != nil {
		r.Handle("/auth/google", rt.OAuth)
	}
}

// handleLogout disconnects the session. It never depends on the API being
// reachable.
func (rt *Routes) handleLogout(w http.ResponseWriter, r *http.Request) {
	log.Println("Logging out user...")
	rt.Machine.Disconnect()

	to := r.URL.Query().Get("to")
	if to == "" || !isLocalURL(to) {
		fmt.Fprintf(w, "Logged Out")
		return
	}
	http.Redirect(w, r, to, http.StatusFound)
}
