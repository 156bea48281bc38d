package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// fakeDispenser records calls and serves a fixed state.
type fakeDispenser struct {
	mu    sync.Mutex
	state dispenser.State
	calls []string
	joins [][2]string
	// blockConnect makes Connect wait for its context, like a search that
	// finds nothing.
	blockConnect bool
}

func newFakeDispenser() *fakeDispenser {
	return &fakeDispenser{state: dispenser.State{Supported: true}}
}

func (f *fakeDispenser) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDispenser) called(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeDispenser) State() dispenser.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDispenser) Connect(ctx context.Context) {
	f.record("connect")
	if f.blockConnect {
		<-ctx.Done()
	}
}

func (f *fakeDispenser) Disconnect()                 { f.record("disconnect") }
func (f *fakeDispenser) ForceUpdate(context.Context) { f.record("refresh") }
func (f *fakeDispenser) ScanWifi(context.Context)    { f.record("scan") }
func (f *fakeDispenser) ConnectWifi(_ context.Context, ssid, credential string) {
	f.record("join")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, [2]string{ssid, credential})
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func windowSize() tea.WindowSizeMsg {
	return tea.WindowSizeMsg{Width: 80, Height: 24}
}

// collect runs cmd and every command in the batches it returns. Only use
// it on commands known not to sleep.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		if msg == nil {
			return nil
		}
		return []tea.Msg{msg}
	}
	var msgs []tea.Msg
	for _, c := range batch {
		msgs = append(msgs, collect(c)...)
	}
	return msgs
}

func findMsg[T tea.Msg](msgs []tea.Msg) (T, bool) {
	for _, msg := range msgs {
		if m, ok := msg.(T); ok {
			return m, true
		}
	}
	var zero T
	return zero, false
}

var testNetworks = []dispenser.Network{
	{SSID: "TacoBoutAGoodSignal", Encryption: "wpa2", Strength: 92},
	{SSID: "Unencrypted_Honeypot", Encryption: "none", Strength: 71},
}
