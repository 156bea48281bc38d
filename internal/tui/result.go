package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ResultModel tells how joining a network went.
type ResultModel struct {
	outcome  Outcome
	ssid     string
	endpoint string
	// set once the link dropped, the session screens are gone by then
	disconnected bool
}

func NewResultModel(o Outcome, ssid, endpoint string) *ResultModel {
	return &ResultModel{outcome: o, ssid: ssid, endpoint: endpoint}
}

func (m *ResultModel) Init() tea.Cmd { return nil }

func backToNetworks() tea.Msg {
	return PopUntilMsg{Match: func(v tea.Model) bool {
		_, ok := v.(*WifisModel)
		return ok
	}}
}

func (m *ResultModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		if !msg.Connected {
			m.disconnected = true
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if m.outcome == OutcomeConnected {
				return m, push(NewCompletedModel(m.endpoint))
			}
			return m, backToNetworks
		case "esc":
			if m.disconnected {
				return m, pop
			}
			return m, backToNetworks
		case "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

// A connected result stays around when the dispenser restarts onto the
// new network.
func (m *ResultModel) sessionScoped() bool { return m.outcome != OutcomeConnected }

func (m *ResultModel) View() string {
	switch m.outcome {
	case OutcomeConnected:
		return screen(
			lipgloss.NewStyle().Foreground(CurrentTheme.Success).Bold(true).Render("Connected to "+m.ssid),
			paragraph("Fantastic, the Candy Dispenser is connected. Give it a moment until it's ready for you."),
			help("enter: continue • esc: pick another network • q: quit"),
		)
	case OutcomeFailed:
		return screen(
			lipgloss.NewStyle().Foreground(CurrentTheme.Warning).Bold(true).Render("No internet on "+m.ssid),
			paragraph("Oh shoot, the Candy Dispenser wasn't able to establish a connection to the internet."),
			help("enter: retry • q: quit"),
		)
	}
	return screen(
		lipgloss.NewStyle().Foreground(CurrentTheme.Error).Bold(true).Render("Couldn't join "+m.ssid),
		paragraph("Oh no, the selected Wi-Fi couldn't be connected to."),
		help("enter: retry • q: quit"),
	)
}
