package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const ScanOff = 0

// ScanSchedule triggers scans at a regular interval while its view is on top
// of the stack.
type ScanSchedule struct {
	callback func() tea.Msg
	interval time.Duration
	running  bool
	// gen invalidates ticks scheduled before the last Start or Stop.
	gen int
}

// NewScanSchedule creates a stopped ScanSchedule. An interval of ScanOff
// disables the periodic scans, the callback still runs once on Start.
func NewScanSchedule(interval time.Duration, callback func() tea.Msg) *ScanSchedule {
	return &ScanSchedule{
		callback: callback,
		interval: interval,
	}
}

// Start scans immediately and then every interval.
func (s *ScanSchedule) Start() tea.Cmd {
	s.gen++
	s.running = true
	return tea.Batch(s.callback, s.tick())
}

// Stop cancels pending ticks.
func (s *ScanSchedule) Stop() {
	s.gen++
	s.running = false
}

// Running reports whether the schedule is started.
func (s *ScanSchedule) Running() bool {
	return s.running
}

// Update handles messages for the ScanSchedule.
func (s *ScanSchedule) Update(msg tea.Msg) tea.Cmd {
	tick, ok := msg.(scanTickMsg)
	if !ok || !s.running || tick.gen != s.gen {
		return nil
	}
	// When we get a tick, call the callback and then schedule the next tick.
	return tea.Batch(s.callback, s.tick())
}

// internal message to trigger a tick
type scanTickMsg struct{ gen int }

func (s *ScanSchedule) tick() tea.Cmd {
	if s.interval == ScanOff {
		return nil
	}
	gen := s.gen
	return tea.Tick(s.interval, func(t time.Time) tea.Msg {
		return scanTickMsg{gen: gen}
	})
}
