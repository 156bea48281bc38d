//go:build darwin || windows

package ble

import (
	"io"
	"log/slog"
	"testing"
)

func TestLinkForgetsStoppedSubscriptions(t *testing.T) {
	l := &Link{
		transport: &Transport{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), links: make(map[string]*Link)},
		address:   "C0:FF:EE:00:00:01",
		watchers:  make(map[int]func()),
	}
	first := &notification{values: make(chan []byte, 1), done: make(chan struct{})}
	second := &notification{values: make(chan []byte, 1), done: make(chan struct{})}
	l.notifies = []*notification{first, second}

	first.close()
	l.forget(first)
	if len(l.notifies) != 1 || l.notifies[0] != second {
		t.Fatalf("expected only the running subscription to be kept, got %d", len(l.notifies))
	}

	l.lost()
	select {
	case <-second.done:
	default:
		t.Errorf("losing the link should end the running subscription")
	}
	if l.notifies != nil {
		t.Errorf("expected no subscriptions after the link is lost")
	}
}
