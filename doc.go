// Package sessiongate is the client-side session and access-control layer of
// the Refearn member frontend. It decides whether a visitor is anonymous,
// authenticating, a member, or an administrator, and gates every protected
// view accordingly. All business logic - earnings, payments, referral chains -
// lives in the remote platform API; this package only consumes its identity
// endpoints.
//
// # Architecture
//
// Machine: the authoritative in-memory session state. Created at startup in
// the Initializing state, it settles through an optimistic
// cache-then-revalidate sequence: a stored profile snapshot renders
// immediately, then the identity endpoint confirms or replaces it. All
// mutations go through three operations - Authenticate, Disconnect,
// ChangePassword - never direct field writes.
//
// CredentialStore: durable persistence of the bearer token and cached
// profile. Implementations ship for plain files (stores/fs), redis
// (stores/redis) and GORM-backed databases (stores/gorm); writes are always
// full overwrites and clears remove both keys atomically.
//
// Guards: three route policies - RequireAuthenticated, RequireAnonymous,
// RequireAdmin - consuming the machine's snapshots. While the machine is
// unresolved they render a loading view rather than guessing; once resolved
// they render, redirect with the requested location preserved, or show an
// access-denied countdown.
//
// Completion handlers: the external-auth redirect targets. ParseCompletion
// classifies the query parameters into a closed set of outcomes; the login
// variant feeds the machine exactly like a direct login, the registration
// variant only acknowledges or explains.
//
// VerificationFlow: the signup-time OTP challenge - six digit slots with
// focus rules, a 15-minute countdown, and resend throttling.
//
// # Basic Usage
//
//	store, _ := fs.NewCredentialStore("", "refearn")
//	api := sessiongate.NewAPIClient("https://api.refearn.example")
//	machine := sessiongate.NewMachine(store, api)
//	go machine.Initialize(context.Background())
//
//	sessions := scs.New()
//	guards := &sessiongate.Guards{Machine: machine, Session: sessions}
//
//	r := mux.NewRouter()
//	routes := &sessiongate.Routes{
//	    Machine: machine,
//	    Guards:  guards,
//	    Login:   &sessiongate.LoginCompletion{Machine: machine, Session: sessions},
//	    Signup:  &sessiongate.SignupCompletion{Session: sessions},
//	    OAuth:   sessiongate.NewGoogleRedirect("", "", ""),
//	}
//	routes.Attach(r)
//	r.Handle("/dashboard", guards.RequireAuthenticated(dashboard))
//	r.Handle("/admin", guards.RequireAdmin(admin))
//
// # Failure Policy
//
// Initialization never propagates raw errors to guards: every failure path -
// unreadable storage, malformed cache, unreachable API - resolves to a
// terminal safe state (Anonymous) after clearing credential state. User-facing
// surfaces show messages derived from the error taxonomy in errors.go, with a
// generic fallback whenever the server gives no structured reason.
//
// # Testing
//
// Handlers are tested without a running server using httptest; the session
// machine against in-memory stores and stub APIs; countdown behavior against
// a clockwork fake clock; the redis store against miniredis.
package sessiongate
