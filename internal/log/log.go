package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// MaxRecords is how many records the handler keeps for the log view.
const MaxRecords = 20

// ring is shared by a TUIHandler and every handler derived from it.
type ring struct {
	level   slog.LevelVar
	mu      sync.Mutex
	ch      chan<- tea.Msg
	records []slog.Record
	dropped int
}

// TUIHandler is a slog.Handler that keeps the latest records and forwards
// each one to a tea.Program.
type TUIHandler struct {
	slog.Handler
	ring *ring
}

// NewTUIHandler creates a new TUIHandler.
func NewTUIHandler(handler slog.Handler, ch chan<- tea.Msg) *TUIHandler {
	return &TUIHandler{
		Handler: handler,
		ring:    &ring{ch: ch},
	}
}

// Handle stores the record and sends it to the TUI. Records are never
// blocked on a busy program: when the output channel is full the record
// is only kept in the ring.
func (h *TUIHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.ring.level.Level() {
		h.keep(r)
	}
	if !h.Handler.Enabled(ctx, r.Level) {
		return nil
	}
	return h.Handler.Handle(ctx, r)
}

// Enabled reports whether either the ring or the wrapped handler wants
// records at level.
func (h *TUIHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.ring.level.Level() || h.Handler.Enabled(ctx, level)
}

// SetLevel sets the minimum level kept for the log view. It defaults to
// info.
func (h *TUIHandler) SetLevel(level slog.Level) {
	h.ring.level.Set(level)
}

func (h *TUIHandler) keep(r slog.Record) {
	h.ring.mu.Lock()
	h.ring.records = append(h.ring.records, r.Clone())
	if len(h.ring.records) > MaxRecords {
		h.ring.records = h.ring.records[1:]
	}
	if h.ring.ch != nil {
		select {
		case h.ring.ch <- LogMsg(r):
		default:
			h.ring.dropped++
		}
	}
	h.ring.mu.Unlock()
}

func (h *TUIHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TUIHandler{Handler: h.Handler.WithAttrs(attrs), ring: h.ring}
}

func (h *TUIHandler) WithGroup(name string) slog.Handler {
	return &TUIHandler{Handler: h.Handler.WithGroup(name), ring: h.ring}
}

// Logs returns a copy of the stored records, oldest first.
func (h *TUIHandler) Logs() []slog.Record {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	return append([]slog.Record(nil), h.ring.records...)
}

// Dropped is how many records could not be forwarded to the program.
func (h *TUIHandler) Dropped() int {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	return h.ring.dropped
}

// LogMsg is a tea.Msg that represents a log message.
type LogMsg slog.Record

// SetOutput sets the output channel for the handler.
func (h *TUIHandler) SetOutput(ch chan<- tea.Msg) {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	h.ring.ch = ch
}

var defaultHandler = NewTUIHandler(slog.DiscardHandler, nil)

// Init installs a TUIHandler wrapping handler as the default logger and
// returns that logger. The log view keeps records from level up.
func Init(handler slog.Handler, level slog.Level) *slog.Logger {
	defaultHandler = NewTUIHandler(handler, nil)
	defaultHandler.SetLevel(level)
	logger := slog.New(defaultHandler)
	slog.SetDefault(logger)
	return logger
}

// SetOutput sets the output channel for the default logger.
func SetOutput(ch chan<- tea.Msg) {
	defaultHandler.SetOutput(ch)
}

// Logs returns the stored log messages from the default logger.
func Logs() []slog.Record {
	return defaultHandler.Logs()
}

// OpenFile returns a text handler writing to path at level. The file is
// truncated on every run.
func OpenFile(path string, level slog.Level) (slog.Handler, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nil, err
	}
	return slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}), f, nil
}
