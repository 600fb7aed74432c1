// Package app contains the main Bubbletea application model.
// This is the central hub that manages app state and delegates to child views.
package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/quasar/mcauth/internal/auth"
	"github.com/quasar/mcauth/internal/ui"
)

// State represents the current view/screen of the application
type State int

const (
	StateAccounts State = iota
	StateSignIn
)

// Model is the main application model
type Model struct {
	state  State
	width  int
	height int

	// Child models for each view
	accounts *ui.AccountsModel
	signIn   *ui.SignInModel

	// Core services
	orch    *auth.Orchestrator
	changes <-chan struct{}

	// Key bindings
	keys keyMap

	ready bool
}

// keyMap defines the keybindings for the app
type keyMap struct {
	Quit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// New creates a new application model
func New(orch *auth.Orchestrator) *Model {
	return &Model{
		state:    StateAccounts,
		accounts: ui.NewAccountsModel(orch),
		orch:     orch,
		changes:  orch.Watch(),
		keys:     defaultKeyMap(),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.accounts.Init(),
		m.waitForChange(),
	)
}

// waitForChange forwards store changes (background refreshes included)
// into the message loop so the account list stays current
func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return ui.AccountsChanged{}
	}
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

		m.accounts.SetSize(msg.Width, msg.Height)
		if m.signIn != nil {
			m.signIn.SetSize(msg.Width, msg.Height)
		}

	// Navigation messages
	case ui.NavigateToAccounts:
		m.state = StateAccounts
		m.signIn = nil
		m.accounts.Reload()
		return m, nil

	case ui.NavigateToSignIn:
		m.state = StateSignIn
		m.signIn = ui.NewSignInModel(m.orch, msg.Flow)
		m.signIn.SetSize(m.width, m.height)
		return m, m.signIn.Init()

	case ui.AccountsChanged:
		m.accounts.Reload()
		// Keep the subscription alive
		return m, m.waitForChange()

	// Global key handlers
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.state == StateAccounts && !m.accounts.Editing() {
				m.orch.CancelCurrentAttempt()
				return m, tea.Quit
			}
		}
	}

	// Delegate to current view
	switch m.state {
	case StateAccounts:
		newAccounts, cmd := m.accounts.Update(msg)
		m.accounts = newAccounts
		cmds = append(cmds, cmd)

	case StateSignIn:
		if m.signIn != nil {
			newSignIn, cmd := m.signIn.Update(msg)
			m.signIn = newSignIn
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model
func (m *Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	switch m.state {
	case StateAccounts:
		return m.accounts.View()
	case StateSignIn:
		if m.signIn != nil {
			return m.signIn.View()
		}
	}

	return "Unknown state"
}
