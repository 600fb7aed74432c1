package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/quasar/mcauth/internal/account"
	"github.com/quasar/mcauth/internal/auth"
)

// AccountsModel is the account switcher: the main view listing every
// stored account with its token status
type AccountsModel struct {
	list   list.Model
	orch   *auth.Orchestrator
	width  int
	height int
	keys   accountsKeyMap

	// offline-add prompt
	adding bool
	input  textinput.Model

	status string
}

type accountsKeyMap struct {
	Select  key.Binding
	Browser key.Binding
	Device  key.Binding
	Offline key.Binding
	Refresh key.Binding
	Remove  key.Binding
}

func defaultAccountsKeyMap() accountsKeyMap {
	return accountsKeyMap{
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Browser: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "browser sign-in"),
		),
		Device: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "code sign-in"),
		),
		Offline: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "add offline"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Remove: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "remove"),
		),
	}
}

// accountItem adapts an account for the list view
type accountItem struct {
	acc     *account.Account
	current bool
}

func (i accountItem) Title() string {
	title := i.acc.Username
	if i.current {
		title += "  ●"
	}
	return title
}

func (i accountItem) Description() string {
	switch {
	case i.acc.Type == account.TypeOffline:
		return "Offline • no token"
	case i.acc.NeedsRelogin:
		return "Microsoft • needs re-login"
	case i.acc.ExpiresAt.Before(time.Now()):
		return "Microsoft • token expired"
	default:
		return fmt.Sprintf("Microsoft • token expires %s", humanize.Time(i.acc.ExpiresAt))
	}
}

func (i accountItem) FilterValue() string { return i.acc.Username }

// NewAccountsModel creates the account switcher view
func NewAccountsModel(orch *auth.Orchestrator) *AccountsModel {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorPrimary).
		BorderLeftForeground(ColorPrimary)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorSecondary).
		BorderLeftForeground(ColorPrimary)

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = "Minecraft Accounts"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(false)
	l.Styles.Title = TitleStyle
	l.SetShowHelp(false)

	input := textinput.New()
	input.Placeholder = "offline username"
	input.CharLimit = 16

	m := &AccountsModel{
		list:  l,
		orch:  orch,
		keys:  defaultAccountsKeyMap(),
		input: input,
	}
	m.Reload()
	return m
}

// Reload re-reads the store and rebuilds the list items
func (m *AccountsModel) Reload() {
	current := m.orch.CurrentAccount()
	currentID := ""
	if current != nil {
		currentID = current.LocalID
	}

	items := []list.Item{}
	for _, acc := range m.orch.ListAccounts() {
		items = append(items, accountItem{acc: acc, current: acc.LocalID == currentID})
	}
	m.list.SetItems(items)
}

func (m *AccountsModel) Init() tea.Cmd {
	return nil
}

// Editing reports whether the offline-add prompt has keyboard focus,
// so global keybindings can stay out of the way
func (m *AccountsModel) Editing() bool {
	return m.adding
}

func (m *AccountsModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.list.SetSize(w-4, h-6)
}

func (m *AccountsModel) selected() *account.Account {
	item, ok := m.list.SelectedItem().(accountItem)
	if !ok {
		return nil
	}
	return item.acc
}

func (m *AccountsModel) Update(msg tea.Msg) (*AccountsModel, tea.Cmd) {
	if m.adding {
		return m.updateAddPrompt(msg)
	}

	switch msg := msg.(type) {
	case AccountsChanged:
		m.Reload()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Select):
			if acc := m.selected(); acc != nil {
				if err := m.orch.SwitchCurrent(acc.LocalID); err != nil {
					m.status = err.Error()
				}
				m.Reload()
			}
			return m, nil

		case key.Matches(msg, m.keys.Browser):
			return m, func() tea.Msg { return NavigateToSignIn{Flow: auth.FlowAuthorizationCode} }

		case key.Matches(msg, m.keys.Device):
			return m, func() tea.Msg { return NavigateToSignIn{Flow: auth.FlowDeviceCode} }

		case key.Matches(msg, m.keys.Offline):
			m.adding = true
			m.input.SetValue("")
			m.input.Focus()
			return m, textinput.Blink

		case key.Matches(msg, m.keys.Refresh):
			if acc := m.selected(); acc != nil && acc.Type == account.TypeMSA {
				return m, m.refreshCmd(acc.LocalID)
			}
			return m, nil

		case key.Matches(msg, m.keys.Remove):
			if acc := m.selected(); acc != nil {
				if err := m.orch.RemoveAccount(acc.LocalID); err != nil {
					m.status = err.Error()
				}
				m.Reload()
			}
			return m, nil
		}

	case refreshDoneMsg:
		if msg.err != nil {
			m.status = auth.UserMessage(msg.err)
		} else {
			m.status = "token refreshed"
		}
		m.Reload()
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *AccountsModel) updateAddPrompt(msg tea.Msg) (*AccountsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			name := m.input.Value()
			m.adding = false
			if name != "" {
				if _, err := m.orch.AddOfflineAccount(name, false); err != nil {
					m.status = err.Error()
				}
				m.Reload()
			}
			return m, nil
		case "esc":
			m.adding = false
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

type refreshDoneMsg struct {
	err error
}

func (m *AccountsModel) refreshCmd(localID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		_, err := m.orch.Refresh(ctx, localID)
		return refreshDoneMsg{err: err}
	}
}

func (m *AccountsModel) View() string {
	if m.adding {
		return lipgloss.NewStyle().Padding(2, 4).Render(
			"Add offline account\n\n" + m.input.View() + "\n\n" +
				HelpStyle.Render("[enter] add • [esc] cancel"),
		)
	}

	help := HelpStyle.Render(
		"[enter] select • [b] browser sign-in • [c] code sign-in • [o] add offline • [r] refresh • [x] remove • [q] quit",
	)

	status := ""
	if m.status != "" {
		status = "\n" + WarningStyle.Render(m.status)
	}

	return lipgloss.NewStyle().Padding(1, 2).Render(
		m.list.View() + status + "\n\n" + help,
	)
}
