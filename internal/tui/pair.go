package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

type pairPhase int

const (
	pairIdle pairPhase = iota
	pairSearching
	// pairUnpaired: the last search ended without a paired dispenser.
	pairUnpaired
)

// PairModel searches for a dispenser and pairs with it. When a Prompt is
// set, found dispensers are listed for the user to pick from.
type PairModel struct {
	dispenser Dispenser
	prompt    *Prompt
	opts      Options

	phase   pairPhase
	devices []dispenser.Device
	cursor  int
	picked  bool
	err     error
	// cancel ends the running search.
	cancel context.CancelFunc
}

func NewPairModel(d Dispenser, prompt *Prompt, opts Options) *PairModel {
	return &PairModel{dispenser: d, prompt: prompt, opts: opts}
}

func (m *PairModel) Init() tea.Cmd { return nil }

func (m *PairModel) start() tea.Cmd {
	m.phase = pairSearching
	m.devices = nil
	m.cursor = 0
	m.picked = false
	m.err = nil
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	return tea.Batch(setLoading("Searching for Candy Dispensers..."), connectDispenser(ctx, m.dispenser))
}

func (m *PairModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case deviceSearchMsg:
		m.devices = nil
		m.cursor = 0
	case deviceFoundMsg:
		m.devices = append(m.devices, msg.device)
	case connectDoneMsg:
		m.stopSearch()
		if msg.state.Connected {
			m.phase = pairIdle
			return m, tea.Batch(stopLoading(), push(NewPairedModel(m.dispenser, m.opts, msg.state)))
		}
		m.phase = pairUnpaired
		var opErr *dispenser.OpError
		if errors.As(msg.state.Err, &opErr) && opErr.Op == "connect" {
			m.err = opErr
		}
		return m, stopLoading()

	case tea.KeyMsg:
		if m.phase == pairSearching {
			return m, m.updateSearching(msg)
		}
		switch msg.String() {
		case "enter", "r":
			return m, m.start()
		case "esc":
			return m, pop
		case "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *PairModel) updateSearching(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.devices)-1 {
			m.cursor++
		}
	case "enter":
		if m.prompt == nil || m.picked || len(m.devices) == 0 {
			return nil
		}
		dev := m.devices[m.cursor]
		m.picked = true
		m.prompt.Pick(dev)
		return setLoading(fmt.Sprintf("Pairing with %s...", dev))
	case "esc":
		if m.picked {
			return nil
		}
		if m.prompt != nil {
			m.prompt.Cancel()
			return nil
		}
		m.stopSearch()
		return setLoading("Stopping the search...")
	}
	return nil
}

func (m *PairModel) stopSearch() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// OnResume is called when the paired screen was left.
func (m *PairModel) OnResume() tea.Cmd {
	m.phase = pairIdle
	m.devices = nil
	return nil
}

func (m *PairModel) View() string {
	switch m.phase {
	case pairSearching:
		return m.viewSearching()
	case pairUnpaired:
		parts := []string{
			title("No Candy Dispenser found"),
			paragraph("Whoops, no Candy Dispenser could be found. Make sure it's close to your device and that you waited for it to buzz before pairing."),
		}
		if m.err != nil {
			parts = append(parts, lipgloss.NewStyle().Foreground(CurrentTheme.Error).Render(describeError(m.err)))
		}
		parts = append(parts, help("enter: retry • esc: back • q: quit"))
		return screen(parts...)
	}
	return screen(
		title("Pair"),
		paragraph("Plug your Candy Dispenser into a power outlet and wait for it to buzz before you start pairing."),
		help("enter: pair Candy Dispenser • esc: back • q: quit"),
	)
}

func (m *PairModel) viewSearching() string {
	if m.prompt == nil {
		return screen(
			title("Pair"),
			paragraph("Looking for your Candy Dispenser..."),
			help("esc: stop searching"),
		)
	}

	var list strings.Builder
	if len(m.devices) == 0 {
		list.WriteString(help("Nothing found yet."))
	}
	for i, dev := range m.devices {
		if i > 0 {
			list.WriteString("\n")
		}
		line := dev.String()
		if dev.RSSI != 0 {
			line += help(fmt.Sprintf("  %d dBm", dev.RSSI))
		}
		if i == m.cursor {
			list.WriteString(lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Render("▶ ") + line)
		} else {
			list.WriteString("  " + line)
		}
	}

	return screen(
		title("Pair"),
		paragraph("Pick your Candy Dispenser:"),
		list.String(),
		help("enter: pair • esc: stop searching"),
	)
}
