package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// Forwarder relays published states into a tea.Program. Publish never
// blocks, so it is safe to use as a dispenser.Client watcher.
type Forwarder struct {
	send func(tea.Msg)
	wake chan struct{}

	mu    sync.Mutex
	queue []dispenser.State
}

func NewForwarder(send func(tea.Msg)) *Forwarder {
	return &Forwarder{
		send: send,
		wake: make(chan struct{}, 1),
	}
}

// Publish queues st for delivery.
func (f *Forwarder) Publish(st dispenser.State) {
	f.mu.Lock()
	f.queue = append(f.queue, st)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued states in order until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.wake:
		}

		f.mu.Lock()
		queue := f.queue
		f.queue = nil
		f.mu.Unlock()

		for _, st := range queue {
			f.send(StateMsg(st))
		}
	}
}
