package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const shopURL = "https://sweetbit.io"

func paragraph(text string) string {
	return lipgloss.NewStyle().Width(60).Foreground(CurrentTheme.Normal).Render(text)
}

func title(text string) string {
	return lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Bold(true).Render(text)
}

func help(text string) string {
	return lipgloss.NewStyle().Foreground(CurrentTheme.Subtle).Render(text)
}

func screen(parts ...string) string {
	return lipgloss.NewStyle().Margin(1, 2).Render(strings.Join(parts, "\n\n"))
}

// WelcomeModel is the first screen of the wizard.
type WelcomeModel struct {
	dispenser Dispenser
	prompt    *Prompt
	opts      Options
}

func NewWelcomeModel(d Dispenser, prompt *Prompt, opts Options) *WelcomeModel {
	return &WelcomeModel{dispenser: d, prompt: prompt, opts: opts}
}

func (m *WelcomeModel) Init() tea.Cmd { return nil }

func (m *WelcomeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if !m.dispenser.State().Supported {
				return m, push(NewUnsupportedModel())
			}
			return m, push(NewPairModel(m.dispenser, m.prompt, m.opts))
		case "q", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *WelcomeModel) View() string {
	return screen(
		title("Candy Dispenser setup"),
		paragraph("Let's pair your Bitcoin Lightning Candy Dispenser and connect it to your local Wi-Fi to get it up and running."),
		help("enter: start setup • l: logs • q: quit"),
		help("Get a Bitcoin Lightning Candy Dispenser at "+shopURL),
	)
}

// UnsupportedModel explains that this machine can't pair.
type UnsupportedModel struct{}

func NewUnsupportedModel() *UnsupportedModel {
	return &UnsupportedModel{}
}

func (m *UnsupportedModel) Init() tea.Cmd { return nil }

func (m *UnsupportedModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "esc", "enter":
			return m, pop
		}
	}
	return m, nil
}

func (m *UnsupportedModel) View() string {
	return screen(
		title("Bluetooth unavailable"),
		paragraph("This machine has no usable Bluetooth adapter, so the Candy Dispenser can't be paired from here."),
		paragraph("Here are some other options to pair and connect it:"),
		paragraph("• Another computer with Bluetooth Low Energy\n• The official iOS app\n• The official Android app"),
		help("esc: back • q: quit"),
	)
}
