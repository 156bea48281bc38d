package tui

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

type (
	deviceSearchMsg    struct{}
	deviceFoundMsg     struct{ device dispenser.Device }
	deviceSearchEndMsg struct{}
)

type pick struct {
	device    dispenser.Device
	cancelled bool
}

// Prompt lets the pair screen pick a dispenser while the client scans. Its
// Choose method is a dispenser.Chooser.
type Prompt struct {
	picks chan pick

	mu   sync.Mutex
	send func(tea.Msg)
}

func NewPrompt() *Prompt {
	return &Prompt{picks: make(chan pick, 1)}
}

// SetSender sets where found devices are reported, usually
// (*tea.Program).Send.
func (p *Prompt) SetSender(send func(tea.Msg)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.send = send
}

func (p *Prompt) emit(msg tea.Msg) {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

// Choose reports every candidate to the program and waits for Pick or
// Cancel.
func (p *Prompt) Choose(ctx context.Context, candidates <-chan dispenser.Device) (dispenser.Device, error) {
	// A pick left over from an earlier search is not an answer to this one.
	select {
	case <-p.picks:
	default:
	}

	p.emit(deviceSearchMsg{})
	defer p.emit(deviceSearchEndMsg{})

	for {
		select {
		case <-ctx.Done():
			return dispenser.Device{}, fmt.Errorf("no dispenser picked: %w", dispenser.ErrSelectionCancelled)
		case dev, ok := <-candidates:
			if !ok {
				return dispenser.Device{}, fmt.Errorf("search ended: %w", dispenser.ErrSelectionCancelled)
			}
			p.emit(deviceFoundMsg{device: dev})
		case pk := <-p.picks:
			if pk.cancelled {
				return dispenser.Device{}, dispenser.ErrSelectionCancelled
			}
			return pk.device, nil
		}
	}
}

// Pick answers the running Choose with dev.
func (p *Prompt) Pick(dev dispenser.Device) {
	p.answer(pick{device: dev})
}

// Cancel ends the running Choose without a device.
func (p *Prompt) Cancel() {
	p.answer(pick{cancelled: true})
}

func (p *Prompt) answer(pk pick) {
	select {
	case p.picks <- pk:
	default:
		// An answer is already waiting.
	}
}
