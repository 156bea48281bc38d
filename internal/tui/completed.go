package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// CompletedModel is the last screen. It shows where the dispenser can be
// reached as a QR code.
type CompletedModel struct {
	endpoint string
	qr       string
	err      error
}

func NewCompletedModel(endpoint string) *CompletedModel {
	m := &CompletedModel{endpoint: endpoint}
	m.qr, m.err = GenerateEndpointQRCode(endpoint)
	return m
}

func (m *CompletedModel) Init() tea.Cmd { return nil }

func (m *CompletedModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "enter":
			return m, tea.Quit
		case "esc":
			return m, pop
		}
	}
	return m, nil
}

func (m *CompletedModel) View() string {
	parts := []string{
		title("All set"),
		paragraph("Congratulations, your Candy Dispenser is up and running. Use any of the below options to configure it to your needs."),
	}
	if m.err != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(CurrentTheme.Warning).Render("The Candy Dispenser hasn't told us its address yet."))
	} else {
		parts = append(parts,
			paragraph("Scan to open the Candy Dispenser's web app:"),
			m.qr,
			lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Render(EndpointURL(m.endpoint)),
		)
	}
	parts = append(parts, help("enter: finish • esc: back"))
	return screen(parts...)
}
