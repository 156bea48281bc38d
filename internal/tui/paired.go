package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// PairedModel shows what the paired dispenser reported.
type PairedModel struct {
	dispenser Dispenser
	opts      Options
	state     dispenser.State
}

func NewPairedModel(d Dispenser, opts Options, st dispenser.State) *PairedModel {
	return &PairedModel{dispenser: d, opts: opts, state: st}
}

func (m *PairedModel) Init() tea.Cmd { return nil }

func (m *PairedModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.state = dispenser.State(msg)
	case refreshDoneMsg:
		m.state = msg.state
		var opErr *dispenser.OpError
		if errors.As(msg.state.Err, &opErr) && opErr.Op == "refresh" {
			return m, func() tea.Msg { return ShowErrorMsg{Err: opErr} }
		}
		return m, stopLoading()
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "w":
			return m, push(NewWifisModel(m.dispenser, m.opts, m.state.AvailableWifis))
		case "r":
			return m, tea.Batch(setLoading("Reading the Candy Dispenser..."), refreshDispenser(m.dispenser))
		case "c":
			if m.state.Dispenser != nil && m.state.Dispenser.OnionAPI != "" {
				return m, push(NewCompletedModel(m.state.Dispenser.OnionAPI))
			}
		case "d", "esc":
			return m, pop
		}
	}
	return m, nil
}

// OnLeave closes the link, going back means pairing again.
func (m *PairedModel) OnLeave() tea.Cmd {
	return disconnectDispenser(m.dispenser)
}

func (m *PairedModel) sessionScoped() bool { return true }

func (m *PairedModel) View() string {
	keys := []string{"enter: search Wi-Fi", "r: refresh"}
	if m.state.Dispenser != nil && m.state.Dispenser.OnionAPI != "" {
		keys = append(keys, "c: show address")
	}
	keys = append(keys, "d: disconnect")

	return screen(
		title("Paired"),
		paragraph("Congratulations, you've successfully paired your Candy Dispenser. Now let's find a Wi-Fi to connect to."),
		dispenserCard(m.state),
		help(strings.Join(keys, " • ")),
	)
}

func dispenserCard(st dispenser.State) string {
	label := lipgloss.NewStyle().Foreground(CurrentTheme.Subtle).Width(10)
	value := lipgloss.NewStyle().Foreground(CurrentTheme.Normal)

	row := func(k, v string) string {
		return label.Render(k) + value.Render(v)
	}

	rows := []string{row("Device", st.Device.String())}
	if st.Dispenser == nil {
		rows = append(rows, row("Status", "not read yet"))
	} else {
		rows = append(rows, row("Status", st.Dispenser.Status))
		onion := st.Dispenser.OnionAPI
		if onion == "" {
			onion = "none"
		}
		rows = append(rows, row("Address", onion))
	}
	if n := len(st.AvailableWifis); n > 0 {
		rows = append(rows, row("Networks", fmt.Sprintf("%d seen", n)))
	}
	if st.Err != nil {
		rows = append(rows, lipgloss.NewStyle().Foreground(CurrentTheme.Error).Render(describeError(st.Err)))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(CurrentTheme.Border).
		Padding(0, 1).
		Render(strings.Join(rows, "\n"))
}
