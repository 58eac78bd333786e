// ABOUTME: Random values bound to one authorization attempt
// ABOUTME: State nonce for CSRF protection and PKCE verifier

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// authAttempt holds the values issued for one consent URL.
type authAttempt struct {
	state    string
	verifier string
}

func newAuthAttempt() (authAttempt, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return authAttempt{}, fmt.Errorf("failed to generate state: %w", err)
	}
	return authAttempt{
		state:    base64.RawURLEncoding.EncodeToString(b),
		verifier: oauth2.GenerateVerifier(),
	}, nil
}

// matches compares a returned state in constant time.
func (a authAttempt) matches(state string) bool {
	return a.state != "" && subtle.ConstantTimeCompare([]byte(a.state), []byte(state)) == 1
}
