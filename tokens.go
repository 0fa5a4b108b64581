package sessiongate

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenParser skips claim validation: the platform API is the source of truth
// for token validity, local inspection is only a hint.
var tokenParser = jwt.NewParser(jwt.WithoutClaimsValidation())

// TokenExpiry returns the expiry claim of a bearer token without verifying
// its signature. ok is false when the token is not a parseable JWT or carries
// no expiry claim. Never use this in place of revalidation.
func TokenExpiry(tokenString string) (expiry time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := tokenParser.ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenSubject returns the subject claim of a bearer token without verifying
// its signature, or "" when absent.
func TokenSubject(tokenString string) string {
	claims := jwt.MapClaims{}
	if _, _, err := tokenParser.ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
