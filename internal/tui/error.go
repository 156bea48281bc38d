package tui

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// ErrorModel shows an error until any key is pressed.
type ErrorModel struct {
	err error
}

func NewErrorModel(err error) *ErrorModel {
	return &ErrorModel{err: err}
}

func (m *ErrorModel) Init() tea.Cmd { return nil }

func (m *ErrorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case tea.KeyMsg:
		// Any key press dismisses the error
		return m, pop
	}
	return m, nil
}

func (m *ErrorModel) View() string {
	errorViewStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder(), true).
		BorderForeground(CurrentTheme.Error).
		Padding(1, 2)
	return lipgloss.NewStyle().Margin(1, 2).Render(errorViewStyle.Render(fmt.Sprintf("Error: %s", describeError(m.err))))
}

func (m *ErrorModel) overlay() {}

// describeError turns client failures into something a person can act on.
func describeError(err error) string {
	var opErr *dispenser.OpError
	if !errors.As(err, &opErr) {
		return err.Error()
	}
	var what string
	switch opErr.Op {
	case "connect":
		what = "Couldn't pair with the Candy Dispenser"
	case "refresh":
		what = "Couldn't read from the Candy Dispenser"
	case "scan":
		what = "Couldn't start a Wi-Fi search"
	case "join":
		what = "Couldn't send the Wi-Fi credentials"
	case "notify":
		what = "The Candy Dispenser sent an unreadable network"
	default:
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", what, opErr.Err)
}
