package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// AuthModel asks for the password of the selected network.
type AuthModel struct {
	dispenser Dispenser
	opts      Options
	network   dispenser.Network
	input     textinput.Model
	missing   bool
}

func NewAuthModel(d Dispenser, opts Options, n dispenser.Network) *AuthModel {
	ti := textinput.New()
	ti.Placeholder = "Password"
	ti.EchoMode = textinput.EchoPassword
	ti.CharLimit = 63
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(CurrentTheme.Primary)
	ti.Focus()
	return &AuthModel{dispenser: d, opts: opts, network: n, input: ti}
}

func (m *AuthModel) Init() tea.Cmd {
	return textinput.Blink
}

// IsConsumingInput returns whether the model is focused on a text input.
func (m *AuthModel) IsConsumingInput() bool {
	return m.input.Focused()
}

func (m *AuthModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			password := m.input.Value()
			if password == "" {
				m.missing = true
				return m, nil
			}
			m.input.Reset()
			m.missing = false
			return m, push(NewJoiningModel(m.dispenser, m.opts, m.network, password))
		case "esc":
			return m, pop
		case "tab":
			if m.input.EchoMode == textinput.EchoPassword {
				m.input.EchoMode = textinput.EchoNormal
			} else {
				m.input.EchoMode = textinput.EchoPassword
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *AuthModel) sessionScoped() bool { return true }

func (m *AuthModel) View() string {
	parts := []string{
		title(m.network.SSID),
		paragraph("Enter the Wi-Fi password."),
		m.input.View(),
	}
	if m.missing {
		parts = append(parts, lipgloss.NewStyle().Foreground(CurrentTheme.Error).Render("A password is required for this network."))
	}
	parts = append(parts, help("enter: connect Wi-Fi • tab: show/hide • esc: back"))
	return screen(parts...)
}
