package auth

import (
	"golang.org/x/oauth2"
)

// PKCE couples a freshly generated code verifier with its derived
// S256 challenge. The verifier never leaves the process; only the
// challenge appears in the authorization URL.
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a cryptographically random verifier and derives
// its challenge. Generation cannot fail under normal operation.
func NewPKCE() PKCE {
	v := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  v,
		Challenge: oauth2.S256ChallengeFromVerifier(v),
	}
}
