package sessiongate

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure categories surfaced by the platform API
// and the local flows. Callers match with errors.Is.
var (
	// ErrNetwork indicates the platform API could not be reached or the
	// response could not be read.
	ErrNetwork = errors.New("network failure")

	// ErrAuthorization indicates a bad or expired token.
	ErrAuthorization = errors.New("authorization failed")

	// ErrValidation indicates locally or remotely rejected input
	// (malformed OTP code, bad form fields).
	ErrValidation = errors.New("validation failed")

	// ErrProvider indicates the external identity provider rejected the flow.
	ErrProvider = errors.New("provider error")

	// ErrConflict indicates the account already exists under a different
	// authentication method.
	ErrConflict = errors.New("account conflict")
)

// GenericFailureMessage is shown whenever the server gives no structured
// reason for a failure.
const GenericFailureMessage = "Something went wrong. Please try again."

// apiError carries a user-facing message from the server alongside the
// category it was classified into. cause preserves the underlying transport
// or read error for logs; it never reaches the user.
type apiError struct {
	kind    error
	message string
	cause   error
}

func (e *apiError) Error() string {
	switch {
	case e.message != "":
		return fmt.Sprintf("%s: %s", e.kind.Error(), e.message)
	case e.cause != nil:
		return fmt.Sprintf("%s: %s", e.kind.Error(), e.cause.Error())
	default:
		return e.kind.Error()
	}
}

func (e *apiError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// FailureMessage extracts a user-facing message from an error. Server-provided
// messages win; otherwise a generic fallback is returned so raw error text
// never reaches the user.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *apiError
	if errors.As(err, &ae) && ae.message != "" {
		return ae.message
	}
	return GenericFailureMessage
}
