// Package ui provides TUI view messages shared between components.
package ui

import (
	"github.com/quasar/mcauth/internal/auth"
)

// Navigation messages
type (
	// NavigateToAccounts returns to the account list
	NavigateToAccounts struct{}

	// NavigateToSignIn opens the sign-in screen for the given flow
	NavigateToSignIn struct {
		Flow auth.Flow
	}
)

// AccountsChanged is sent whenever the account store mutates
type AccountsChanged struct{}
