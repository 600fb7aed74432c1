package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPKCE_ChallengeRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := NewPKCE()

		// Re-deriving the challenge from the verifier must reproduce it
		sum := sha256.Sum256([]byte(p.Verifier))
		rederived := base64.RawURLEncoding.EncodeToString(sum[:])
		require.Equal(t, rederived, p.Challenge)
	}
}

func TestNewPKCE_VerifierShape(t *testing.T) {
	p := NewPKCE()

	assert.GreaterOrEqual(t, len(p.Verifier), 43)
	assert.LessOrEqual(t, len(p.Verifier), 128)
	for _, r := range p.Verifier {
		assert.Contains(t,
			"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~",
			string(r), "verifier must be URL-safe")
	}

	// Base64url without padding
	assert.NotContains(t, p.Challenge, "=")
	assert.NotContains(t, p.Challenge, "+")
	assert.NotContains(t, p.Challenge, "/")
}

func TestNewPKCE_Unique(t *testing.T) {
	a, b := NewPKCE(), NewPKCE()
	assert.NotEqual(t, a.Verifier, b.Verifier)
	assert.NotEqual(t, a.Challenge, b.Challenge)
}
