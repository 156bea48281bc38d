package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

//- Messages for stack navigation ----------------------------------------------

// PushMsg is a message to push a new view onto the stack.
type PushMsg struct{ Model tea.Model }

// PopMsg is a message to pop a view from the stack.
type PopMsg struct{}

// PopUntilMsg pops views until Match returns true for the top one.
type PopUntilMsg struct{ Match func(tea.Model) bool }

//- Messages for global state --------------------------------------------------

// SetStatusMsg is a message to set the status message on the root model.
type SetStatusMsg string

// SetLoadingMsg is a message to control the loading spinner on the root model.
type SetLoadingMsg struct {
	Loading bool
	Message string
}

// ShowErrorMsg is a message to show the error view.
type ShowErrorMsg struct{ Err error }

//- Optional view hooks ---------------------------------------------------------

// Leavable views are told when they are popped off the stack.
type Leavable interface {
	OnLeave() tea.Cmd
}

// Resumable views are told when they are on top again after a pop.
type Resumable interface {
	OnResume() tea.Cmd
}

// InputConsumer views receive every key, so global shortcuts are off while
// they are on top.
type InputConsumer interface {
	IsConsumingInput() bool
}

// overlay views sit on top of a screen without taking over its work:
// messages other than input still reach the screen beneath them.
type overlay interface {
	overlay()
}

// sessionScoped views only make sense while a dispenser is paired. They are
// removed from the stack when the link drops, together with the overlays
// on top of them.
type sessionScoped interface {
	sessionScoped() bool
}

func inSession(v tea.Model) bool {
	s, ok := v.(sessionScoped)
	return ok && s.sessionScoped()
}

//- The stack model ------------------------------------------------------------

// Stack is a tea.Model that manages a stack of other tea.Models.
type Stack struct {
	views         []tea.Model
	dispenser     Dispenser
	state         dispenser.State
	spinner       spinner.Model
	loading       bool
	statusMessage string
	width, height int
}

// NewStack creates a new stack with an initial view.
func NewStack(d Dispenser, initialView tea.Model) *Stack {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(CurrentTheme.Primary)

	return &Stack{
		dispenser: d,
		state:     d.State(),
		views:     []tea.Model{initialView},
		spinner:   s,
	}
}

// Init initializes the model at the top of the stack.
func (s *Stack) Init() tea.Cmd {
	var cmds []tea.Cmd
	cmds = append(cmds, s.spinner.Tick)
	if s.Top() != nil {
		cmds = append(cmds, s.Top().Init())
	}
	return tea.Batch(cmds...)
}

// Update handles messages for the stack.
func (s *Stack) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	// Handle stack-specific messages
	case PopMsg:
		cmd := s.pop()
		if s.Top() == nil {
			return s, tea.Quit
		}
		return s, tea.Batch(cmd, s.resume())
	case PopUntilMsg:
		for len(s.views) > 1 && !msg.Match(s.Top()) {
			cmds = append(cmds, s.pop())
		}
		cmds = append(cmds, s.resume())
		return s, tea.Batch(cmds...)
	case PushMsg:
		s.Push(msg.Model)
		cmds = append(cmds, s.Top().Init())
		if s.width > 0 {
			cmds = append(cmds, s.updateTop(tea.WindowSizeMsg{Width: s.width, Height: s.height}))
		}
		return s, tea.Batch(cmds...)

	// Handle global state messages
	case SetStatusMsg:
		s.statusMessage = string(msg)
		s.loading = false
		return s, nil
	case SetLoadingMsg:
		s.loading = msg.Loading
		s.statusMessage = msg.Message
		return s, nil
	case ShowErrorMsg:
		s.loading = false
		s.statusMessage = ""
		s.Push(NewErrorModel(msg.Err))
		return s, nil
	case StateMsg:
		return s, s.updateState(dispenser.State(msg))

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return s, tea.Quit
		case "l":
			if _, ok := s.Top().(overlay); !ok && !s.consumingInput() {
				s.Push(NewLogViewModel())
				return s, nil
			}
		}

	// Propagate the window size message to all views on the stack
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		return s, s.broadcast(msg)
	}

	// Delegate all other messages to the top view, and past overlays to the
	// screen underneath unless it is input.
	if s.Top() != nil {
		cmds = append(cmds, s.updateTop(msg))
		if !isInput(msg) {
			if i := s.underlay(); i >= 0 {
				cmds = append(cmds, s.updateAt(i, msg))
			}
		}
	}

	// Always update the spinner
	var spinCmd tea.Cmd
	s.spinner, spinCmd = s.spinner.Update(msg)
	cmds = append(cmds, spinCmd)

	return s, tea.Batch(cmds...)
}

// updateState records the new dispenser state and unwinds session views
// when the dispenser went away.
func (s *Stack) updateState(st dispenser.State) tea.Cmd {
	prev := s.state
	s.state = st

	var cmds []tea.Cmd
	if prev.Connected && !st.Connected && s.hasSessionView() {
		top := s.Top()
		cmds = append(cmds, s.dropSession())
		s.loading = false
		s.statusMessage = "Dispenser disconnected."
		if s.Top() != top {
			cmds = append(cmds, s.resume())
		}
	}
	cmds = append(cmds, s.broadcast(StateMsg(st)))
	return tea.Batch(cmds...)
}

func (s *Stack) hasSessionView() bool {
	for _, v := range s.views {
		if inSession(v) {
			return true
		}
	}
	return false
}

// dropSession removes session views and the overlays above them. The
// remaining views keep their order.
func (s *Stack) dropSession() tea.Cmd {
	var cmds []tea.Cmd
	kept := make([]tea.Model, 0, len(s.views))
	dropping := false
	for _, v := range s.views {
		_, isOverlay := v.(overlay)
		switch {
		case inSession(v):
			dropping = true
		case isOverlay && dropping:
		default:
			if !isOverlay {
				dropping = false
			}
			kept = append(kept, v)
			continue
		}
		if l, ok := v.(Leavable); ok {
			cmds = append(cmds, l.OnLeave())
		}
	}
	s.views = kept
	return tea.Batch(cmds...)
}

func (s *Stack) broadcast(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd
	for i, view := range s.views {
		updated, cmd := view.Update(msg)
		s.views[i] = updated
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (s *Stack) updateTop(msg tea.Msg) tea.Cmd {
	return s.updateAt(len(s.views)-1, msg)
}

func (s *Stack) updateAt(i int, msg tea.Msg) tea.Cmd {
	model, cmd := s.views[i].Update(msg)
	s.views[i] = model
	return cmd
}

// underlay is the index of the topmost screen hidden by overlays, or -1
// when the top view is not an overlay.
func (s *Stack) underlay() int {
	if _, ok := s.Top().(overlay); !ok {
		return -1
	}
	for i := len(s.views) - 2; i >= 0; i-- {
		if _, ok := s.views[i].(overlay); !ok {
			return i
		}
	}
	return -1
}

func isInput(msg tea.Msg) bool {
	switch msg.(type) {
	case tea.KeyMsg, tea.MouseMsg:
		return true
	}
	return false
}

func (s *Stack) pop() tea.Cmd {
	v := s.Pop()
	if l, ok := v.(Leavable); ok {
		return l.OnLeave()
	}
	return nil
}

func (s *Stack) resume() tea.Cmd {
	if r, ok := s.Top().(Resumable); ok {
		return r.OnResume()
	}
	return nil
}

func (s *Stack) consumingInput() bool {
	c, ok := s.Top().(InputConsumer)
	return ok && c.IsConsumingInput()
}

// View renders the view at the top of the stack.
func (s *Stack) View() string {
	var view strings.Builder
	if s.Top() != nil {
		view.WriteString(s.Top().View())
	}

	// Render global status/loading bar
	if s.loading {
		view.WriteString(fmt.Sprintf("\n\n%s %s", s.spinner.View(), lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Render(s.statusMessage)))
	} else if s.statusMessage != "" {
		view.WriteString(fmt.Sprintf("\n\n%s", lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Render(s.statusMessage)))
	}

	return view.String()
}

// Push adds a view to the top of the stack.
func (s *Stack) Push(v tea.Model) {
	s.views = append(s.views, v)
}

// Pop removes and returns the view from the top of the stack.
func (s *Stack) Pop() tea.Model {
	if len(s.views) == 0 {
		return nil
	}
	v := s.views[len(s.views)-1]
	s.views = s.views[:len(s.views)-1]
	return v
}

// Top returns the view at the top of the stack without removing it.
func (s *Stack) Top() tea.Model {
	if len(s.views) == 0 {
		return nil
	}
	return s.views[len(s.views)-1]
}

// Len is the number of views on the stack.
func (s *Stack) Len() int {
	return len(s.views)
}
