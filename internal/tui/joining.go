package tui

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

const defaultJoinTimeout = 60 * time.Second

// JoiningModel sends the credential and then rereads the dispenser's status
// until it says how the join went or the join timeout passes.
type JoiningModel struct {
	dispenser  Dispenser
	opts       Options
	network    dispenser.Network
	credential string

	sent     bool
	deadline time.Time
	// gen invalidates poll ticks once the screen is left.
	gen    int
	status string
}

func NewJoiningModel(d Dispenser, opts Options, n dispenser.Network, credential string) *JoiningModel {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &JoiningModel{dispenser: d, opts: opts, network: n, credential: credential}
}

func (m *JoiningModel) Init() tea.Cmd {
	cmd := joinNetwork(m.dispenser, m.network.SSID, m.credential)
	// The selected credential is only needed for the join request.
	m.credential = ""
	return tea.Batch(setLoading(fmt.Sprintf("Connecting the Candy Dispenser to %s...", m.network.SSID)), cmd)
}

func (m *JoiningModel) poll() tea.Cmd {
	gen := m.gen
	return tea.Tick(m.opts.PollInterval, func(time.Time) tea.Msg {
		return pollTickMsg{gen: gen}
	})
}

func (m *JoiningModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case joinSentMsg:
		var opErr *dispenser.OpError
		if errors.As(msg.state.Err, &opErr) && opErr.Op == "join" {
			return m, tea.Sequence(pop, func() tea.Msg { return ShowErrorMsg{Err: opErr} })
		}
		m.sent = true
		m.deadline = time.Now().Add(m.opts.JoinTimeout)
		return m, m.poll()
	case pollTickMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m, refreshDispenser(m.dispenser)
	case refreshDoneMsg:
		if !m.sent {
			return m, nil
		}
		if msg.state.Dispenser != nil {
			m.status = msg.state.Dispenser.Status
		}
		result := InterpretStatus(m.status)
		if result == OutcomePending {
			if time.Now().Before(m.deadline) {
				return m, m.poll()
			}
			result = OutcomeUnconnected
		}
		m.gen++
		var endpoint string
		if msg.state.Dispenser != nil {
			endpoint = msg.state.Dispenser.OnionAPI
		}
		return m, tea.Batch(stopLoading(), push(NewResultModel(result, m.network.SSID, endpoint)))
	case tea.KeyMsg:
		if msg.String() == "esc" {
			return m, pop
		}
	}
	return m, nil
}

func (m *JoiningModel) OnLeave() tea.Cmd {
	m.gen++
	return stopLoading()
}

func (m *JoiningModel) sessionScoped() bool { return true }

func (m *JoiningModel) View() string {
	status := m.status
	if status == "" {
		status = "waiting"
	}
	return screen(
		title(m.network.SSID),
		paragraph("Hang on while the Candy Dispenser joins the network."),
		help("Dispenser status: "+status),
		help("esc: back"),
	)
}
