package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// Dispenser is the part of *dispenser.Client the wizard drives.
type Dispenser interface {
	State() dispenser.State
	Connect(ctx context.Context)
	Disconnect()
	ForceUpdate(ctx context.Context)
	ScanWifi(ctx context.Context)
	ConnectWifi(ctx context.Context, ssid, credential string)
}

// Options configures the wizard.
type Options struct {
	// ScanInterval is how often the network list rescans while visible.
	ScanInterval time.Duration
	// JoinTimeout bounds how long the joining screen waits for a verdict.
	JoinTimeout time.Duration
	// PollInterval is how often the joining screen rereads the status.
	PollInterval time.Duration
}

const defaultPollInterval = 2 * time.Second

// StateMsg carries a published dispenser state into the program.
type StateMsg dispenser.State

// Bubbletea messages are used to communicate between the main loop and commands
type (
	connectDoneMsg struct{ state dispenser.State }
	refreshDoneMsg struct{ state dispenser.State }
	joinSentMsg    struct{ state dispenser.State }
	pollTickMsg    struct{ gen int }
)

// Results carry the state as it was when the operation returned, which may
// be ahead of the StateMsgs delivered so far.

// --- Commands that interact with the dispenser ---

func connectDispenser(ctx context.Context, d Dispenser) tea.Cmd {
	return func() tea.Msg {
		d.Connect(ctx)
		return connectDoneMsg{state: d.State()}
	}
}

func scanWifi(d Dispenser) tea.Cmd {
	return func() tea.Msg {
		d.ScanWifi(context.Background())
		return nil
	}
}

func refreshDispenser(d Dispenser) tea.Cmd {
	return func() tea.Msg {
		d.ForceUpdate(context.Background())
		return refreshDoneMsg{state: d.State()}
	}
}

func joinNetwork(d Dispenser, ssid, credential string) tea.Cmd {
	return func() tea.Msg {
		d.ConnectWifi(context.Background(), ssid, credential)
		return joinSentMsg{state: d.State()}
	}
}

func disconnectDispenser(d Dispenser) tea.Cmd {
	return func() tea.Msg {
		d.Disconnect()
		return nil
	}
}

func setLoading(message string) tea.Cmd {
	return func() tea.Msg { return SetLoadingMsg{Loading: true, Message: message} }
}

func stopLoading() tea.Cmd {
	return func() tea.Msg { return SetLoadingMsg{Loading: false} }
}

func push(m tea.Model) tea.Cmd {
	return func() tea.Msg { return PushMsg{Model: m} }
}

func pop() tea.Msg { return PopMsg{} }
