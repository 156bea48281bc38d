package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

const (
	iconOpen       = "  "
	iconSecure     = "🔒"
	iconEnterprise = "🏢"
	ssidColumn     = 30
)

// networkItem adapts a dispenser.Network to the list.
type networkItem struct {
	dispenser.Network
}

func (i networkItem) FilterValue() string { return i.SSID }
func (i networkItem) Title() string       { return i.SSID }
func (i networkItem) Description() string {
	if i.Strength == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d%%", i.Strength)
}

// networkDelegate renders one network per line with its signal strength
// blended between the theme's low and high signal colors.
type networkDelegate struct {
	list.DefaultDelegate
}

func (d networkDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(networkItem)
	if !ok {
		d.DefaultDelegate.Render(w, m, index, listItem)
		return
	}

	var icon string
	switch i.Encryption.Kind() {
	case dispenser.EncryptionNone:
		icon = iconOpen
	case dispenser.EncryptionEnterprise:
		icon = iconEnterprise
	default:
		icon = iconSecure
	}

	name := []rune(i.SSID)
	if len(name) > ssidColumn {
		name = append(name[:ssidColumn-1], '…')
	}
	title := icon + " " + string(name)
	padding := strings.Repeat(" ", ssidColumn-len(name))
	title = lipgloss.NewStyle().Foreground(CurrentTheme.Normal).Render(title)

	desc := lipgloss.NewStyle().Foreground(signalColor(i.Strength)).Render(i.Description())

	if index == m.Index() {
		fmt.Fprint(w, lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Render("▶ ")+title+padding+" "+desc)
		return
	}
	fmt.Fprint(w, "  "+title+padding+" "+desc)
}

// signalColor blends from SignalLow to SignalHigh by strength. Networks
// without a reading use the subtle color.
func signalColor(strength uint8) lipgloss.TerminalColor {
	if strength == 0 {
		return CurrentTheme.Subtle
	}
	start, err := colorful.Hex(hex(CurrentTheme.SignalLow))
	if err != nil {
		return CurrentTheme.Normal
	}
	end, err := colorful.Hex(hex(CurrentTheme.SignalHigh))
	if err != nil {
		return CurrentTheme.Normal
	}
	blend := start.BlendRgb(end, float64(strength)/100.0)
	return lipgloss.Color(blend.Hex())
}

// WifisModel lists the networks the dispenser sees and rescans while it is
// on top of the stack.
type WifisModel struct {
	dispenser Dispenser
	opts      Options
	list      list.Model
	scanner   *ScanSchedule
	err       error
}

func NewWifisModel(d Dispenser, opts Options, networks []dispenser.Network) *WifisModel {
	m := &WifisModel{dispenser: d, opts: opts}
	m.scanner = NewScanSchedule(opts.ScanInterval, func() tea.Msg {
		d.ScanWifi(context.Background())
		return nil
	})

	l := list.New(nil, networkDelegate{}, 0, 0)
	l.Title = fmt.Sprintf("%-*s %s", ssidColumn+3, "Select a Wi-Fi to connect to", "Signal")
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Bold(true)
	l.Styles.FilterPrompt = lipgloss.NewStyle().Foreground(CurrentTheme.Normal)
	l.Styles.FilterCursor = lipgloss.NewStyle().Foreground(CurrentTheme.Primary)
	// Make 'q' the only quit key
	l.KeyMap.Quit = key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit"))
	m.list = l
	m.setNetworks(networks)
	return m
}

func (m *WifisModel) setNetworks(networks []dispenser.Network) tea.Cmd {
	items := make([]list.Item, len(networks))
	for i, n := range networks {
		items[i] = networkItem{n}
	}
	return m.list.SetItems(items)
}

func (m *WifisModel) Init() tea.Cmd {
	return m.scanner.Start()
}

// IsConsumingInput returns whether the model is focused on a text input.
func (m *WifisModel) IsConsumingInput() bool {
	return m.list.FilterState() == list.Filtering
}

func (m *WifisModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.err = msg.Err
		return m, m.setNetworks(msg.AvailableWifis)
	case scanTickMsg:
		return m, m.scanner.Update(msg)
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width-4, msg.Height-6)
		return m, nil
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			selected, ok := m.list.SelectedItem().(networkItem)
			if !ok {
				return m, nil
			}
			m.scanner.Stop()
			if selected.Encryption.NeedsCredential() {
				return m, push(NewAuthModel(m.dispenser, m.opts, selected.Network))
			}
			return m, push(NewJoiningModel(m.dispenser, m.opts, selected.Network, ""))
		case "s":
			return m, scanWifi(m.dispenser)
		case "esc":
			if m.list.FilterState() == list.FilterApplied {
				break
			}
			return m, pop
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *WifisModel) OnLeave() tea.Cmd {
	m.scanner.Stop()
	return nil
}

func (m *WifisModel) OnResume() tea.Cmd {
	return m.scanner.Start()
}

func (m *WifisModel) sessionScoped() bool { return true }

func (m *WifisModel) View() string {
	body := m.list.View()
	if len(m.list.Items()) == 0 {
		body = title("Select a Wi-Fi to connect to") + "\n\n" + help("Searching for networks...")
	}
	parts := []string{body}
	if m.err != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(CurrentTheme.Error).Render(describeError(m.err)))
	}
	parts = append(parts, help("enter: connect • s: search again • /: filter • esc: back"))
	return screen(parts...)
}
