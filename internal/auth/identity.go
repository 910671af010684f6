// Package auth implements the bearer token gate that fronts protected
// routes. Tokens are JWTs validated against a JWKS endpoint, a shared
// HMAC secret, or a PEM public key.
package auth

import "time"

// Identity describes an authenticated caller.
type Identity struct {
	// Subject is the sub claim, used as the rate limit key.
	Subject string

	// Claims holds the full claim set of the validated token.
	Claims map[string]interface{}

	// ExpiresAt is the token expiry.
	ExpiresAt time.Time
}
