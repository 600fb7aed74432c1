package account

import (
	"time"
)

// Type represents the kind of account
type Type string

const (
	TypeMSA     Type = "msa"
	TypeOffline Type = "offline"
)

// Profile is the Minecraft profile resolved for an account.
// Offline placeholder accounts have none.
type Profile struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	SkinURL  string `json:"skinUrl,omitempty"`
}

// Account is the persisted unit. LocalID is the primary key and is
// distinct from Profile.UUID. Only the Microsoft refresh token and
// the final Minecraft access token survive past a session; the
// intermediate Xbox/XSTS tokens are never stored.
type Account struct {
	LocalID         string    `json:"localId"`
	Type            Type      `json:"type"`
	Username        string    `json:"username"`
	Profile         *Profile  `json:"profile,omitempty"`
	MSARefreshToken string    `json:"msaRefreshToken,omitempty"`
	AccessToken     string    `json:"accessToken,omitempty"` // Minecraft access token
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`    // absolute, never a duration
	NeedsRelogin    bool      `json:"needsRelogin,omitempty"`
}

// IsExpired reports whether the Minecraft token is within margin of expiry
func (a *Account) IsExpired(margin time.Duration) bool {
	if a.Type == TypeOffline {
		return false
	}
	return time.Now().Add(margin).After(a.ExpiresAt)
}

// Clone returns a deep copy so callers cannot mutate store state
func (a *Account) Clone() *Account {
	c := *a
	if a.Profile != nil {
		p := *a.Profile
		c.Profile = &p
	}
	return &c
}

// scrub overwrites secret material before the record is dropped
func (a *Account) scrub() {
	a.MSARefreshToken = ""
	a.AccessToken = ""
}
