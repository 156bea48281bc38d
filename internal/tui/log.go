package tui

import (
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	dispenserlog "github.com/sweetbit-io/dispenser-setup/internal/log"
)

// LogViewModel is the model for the log view.
type LogViewModel struct {
	records []slog.Record
}

// NewLogViewModel creates a new LogViewModel.
func NewLogViewModel() *LogViewModel {
	return &LogViewModel{records: dispenserlog.Logs()}
}

// Init is the first command that is run when the program starts.
func (m *LogViewModel) Init() tea.Cmd {
	return nil
}

// Update handles all incoming messages and updates the model accordingly.
func (m *LogViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dispenserlog.LogMsg:
		m.records = dispenserlog.Logs()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "l":
			return m, pop
		}
	}
	return m, nil
}

// View renders the UI based on the current model state.
func (m *LogViewModel) View() string {
	var s strings.Builder
	s.WriteString("Latest logs (press 'q' to return):\n\n")

	for _, log := range m.records {
		var style lipgloss.Style
		switch {
		case log.Level >= slog.LevelError:
			style = lipgloss.NewStyle().Foreground(CurrentTheme.Error)
		case log.Level >= slog.LevelWarn:
			style = lipgloss.NewStyle().Foreground(CurrentTheme.Warning)
		case log.Level < slog.LevelInfo:
			style = lipgloss.NewStyle().Foreground(CurrentTheme.Subtle)
		default:
			style = lipgloss.NewStyle().Foreground(CurrentTheme.Normal)
		}
		s.WriteString(style.Render(fmt.Sprintf("%s [%s] %s", log.Time.Format("15:04:05"), log.Level, log.Message)))
		log.Attrs(func(a slog.Attr) bool {
			s.WriteString(style.Render(fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())))
			return true
		})
		s.WriteString("\n")
	}

	return s.String()
}

func (m *LogViewModel) overlay() {}
