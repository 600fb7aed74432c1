package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quasar/mcauth/internal/account"
	"github.com/quasar/mcauth/internal/auth"
)

type signInState int

const (
	signInStateStarting signInState = iota
	signInStateWaiting
	signInStateSuccess
	signInStateError
)

// SignInModel drives one interactive sign-in attempt, either flow
type SignInModel struct {
	width  int
	height int

	flow    auth.Flow
	state   signInState
	pending *auth.Pending
	err     error
	acc     *account.Account
	copied  bool

	spinner spinner.Model
	orch    *auth.Orchestrator
}

// NewSignInModel creates the sign-in view for the given flow
func NewSignInModel(orch *auth.Orchestrator, flow auth.Flow) *SignInModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorSecondary)

	return &SignInModel{
		flow:    flow,
		state:   signInStateStarting,
		spinner: s,
		orch:    orch,
	}
}

func (m *SignInModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.begin)
}

func (m *SignInModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Messages local to this view
type (
	pendingMsg     struct{ p *auth.Pending }
	resultMsg      struct{ res auth.Result }
	clearCopiedMsg struct{}
)

func (m *SignInModel) begin() tea.Msg {
	var p *auth.Pending
	var err error
	if m.flow == auth.FlowAuthorizationCode {
		p, err = m.orch.BeginAuthorizationCodeFlow(true)
	} else {
		p, err = m.orch.BeginDeviceCodeFlow(true)
	}
	if err != nil {
		return resultMsg{res: auth.Result{Err: err}}
	}
	return pendingMsg{p: p}
}

func awaitPending(p *auth.Pending) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{res: <-p.Done}
	}
}

func (m *SignInModel) Update(msg tea.Msg) (*SignInModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			if m.state == signInStateStarting || m.state == signInStateWaiting {
				if m.pending != nil {
					m.pending.Cancel()
				} else {
					m.orch.CancelCurrentAttempt()
				}
			}
			return m, func() tea.Msg { return NavigateToAccounts{} }
		case "o":
			if m.state == signInStateWaiting {
				openBrowser(m.browseURL())
			}
		case "c":
			if m.state == signInStateWaiting && m.pending != nil && m.pending.UserCode != "" {
				copyToClipboard(m.pending.UserCode)
				m.copied = true
				return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return clearCopiedMsg{} })
			}
		case "enter":
			if m.state == signInStateSuccess || m.state == signInStateError {
				return m, func() tea.Msg { return NavigateToAccounts{} }
			}
		}

	case pendingMsg:
		m.pending = msg.p
		m.state = signInStateWaiting
		cmds := []tea.Cmd{awaitPending(msg.p)}
		if msg.p.UserCode != "" {
			copyToClipboard(msg.p.UserCode)
			m.copied = true
			cmds = append(cmds, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return clearCopiedMsg{} }))
		}
		// Hand off to the system browser right away for both flows
		openBrowser(m.browseURL())
		return m, tea.Batch(cmds...)

	case resultMsg:
		if msg.res.Err != nil {
			m.state = signInStateError
			m.err = msg.res.Err
			return m, nil
		}
		m.state = signInStateSuccess
		m.acc = msg.res.Account
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return NavigateToAccounts{} })

	case clearCopiedMsg:
		m.copied = false
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *SignInModel) browseURL() string {
	if m.pending == nil {
		return ""
	}
	if m.pending.AuthURL != "" {
		return m.pending.AuthURL
	}
	return m.pending.VerificationURI
}

func (m *SignInModel) View() string {
	doc := lipgloss.NewStyle().Padding(2, 4).Width(m.width).Height(m.height)

	var content string
	switch m.state {
	case signInStateStarting:
		content = fmt.Sprintf("%s Contacting Microsoft...", m.spinner.View())

	case signInStateWaiting:
		if m.flow == auth.FlowDeviceCode {
			content = m.deviceView()
		} else {
			content = m.browserView()
		}

	case signInStateSuccess:
		content = SuccessStyle.Render(fmt.Sprintf("Signed in as %s", m.acc.Username)) +
			"\n\nReturning to accounts..."

	case signInStateError:
		content = ErrorStyle.Render("Sign-in failed") +
			"\n\n" + auth.UserMessage(m.err) +
			"\n\n" + HelpStyle.Render("[enter] back")
	}

	return doc.Render(content)
}

func (m *SignInModel) deviceView() string {
	codeText := m.pending.UserCode
	if m.copied {
		codeText += "  ✓ copied"
	}

	return fmt.Sprintf(`Microsoft Sign-in

To sign in, use a web browser to open:
%s

And enter the code:
%s

%s Waiting for you to sign in...

%s`,
		LinkStyle.Render(m.pending.VerificationURI),
		CodeBoxStyle.Render(codeText),
		m.spinner.View(),
		HelpStyle.Render("[c] copy code • [o] open browser • [esc] cancel"))
}

func (m *SignInModel) browserView() string {
	return fmt.Sprintf(`Microsoft Sign-in

A browser window has been opened. Complete the sign-in there;
this launcher picks it up automatically.

%s Waiting for the browser...

%s`,
		m.spinner.View(),
		HelpStyle.Render("[o] reopen browser • [esc] cancel"))
}

func openBrowser(url string) {
	if url == "" {
		return
	}
	switch runtime.GOOS {
	case "linux":
		exec.Command("xdg-open", url).Start()
	case "windows":
		exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		exec.Command("open", url).Start()
	}
}

func copyToClipboard(text string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		// Try wl-copy first, then xclip
		if _, err := exec.LookPath("wl-copy"); err == nil {
			cmd = exec.Command("wl-copy")
		} else {
			cmd = exec.Command("xclip", "-selection", "clipboard")
		}
	default:
		return fmt.Errorf("unsupported platform")
	}

	in, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := in.Write([]byte(text)); err != nil {
		return err
	}
	if err := in.Close(); err != nil {
		return err
	}
	return cmd.Wait()
}
