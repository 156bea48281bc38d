package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

var DefaultActionSleep = 300 * time.Millisecond

// Status values the simulated firmware reports.
const (
	StatusReady     = "ready"
	StatusJoining   = "joining"
	StatusConnected = "connected"
	StatusFailed    = "failed"
)

// Network is one access point the simulated dispenser can see.
type Network struct {
	SSID       string `json:"ssid"`
	Encryption string `json:"encryption"`
	Strength   uint8  `json:"strength,omitempty"`
	// Passphrase is what a join must send for the network to accept it.
	Passphrase string `json:"-"`
}

// Join records one join-network write.
type Join struct {
	SSID       string
	Credential string
}

// MockTransport is an in-memory dispenser for tests and the mock build.
type MockTransport struct {
	mu sync.Mutex

	Devices   []dispenser.Device
	Status    string
	OnionAPI  string
	Networks  []Network
	Joins     []Join
	Writes    map[uuid.UUID][][]byte
	ScanCount int

	// Error injection.
	ScanError       error
	ConnectError    error
	ServiceError    error
	ReadErrors      map[uuid.UUID]error
	WriteErrors     map[uuid.UUID]error
	MissingChars    map[uuid.UUID]bool
	NotifyError     error
	StopNotifyError error

	// AutoEmit sends the scan results on every scan trigger. Tests usually
	// turn it off and call Emit themselves.
	AutoEmit bool
	// ActionSleep is a delay before every action, to better emulate a real-world device for the frontend. Set to 0 during testing.
	ActionSleep time.Duration

	link *mockLink
}

// New creates a MockTransport with a dispenser and a handful of networks.
func New() *MockTransport {
	return &MockTransport{
		Devices: []dispenser.Device{
			{Address: "C0:FF:EE:00:00:01", Name: "Candy Dispenser", RSSI: -48},
		},
		Status:   StatusReady,
		OnionAPI: "sweetbitmockd3mnr4fn2ttaavc2ywpzmxeomxrbsmd5agwrpd5ijsyd.onion",
		Networks: []Network{
			{SSID: "TacoBoutAGoodSignal", Encryption: "wpa2", Strength: 92, Passphrase: "tacos"},
			{SSID: "Unencrypted_Honeypot", Encryption: "none", Strength: 71},
			{SSID: "Dunder MiffLAN", Encryption: "wpa2", Strength: 55, Passphrase: "beets"},
			{SSID: "Corp Eduroam", Encryption: "wpa2-eap", Strength: 40},
			{SSID: "Police Surveillance 2", Encryption: "wpa2", Strength: 23, Passphrase: "donuts"},
		},
		Writes:      make(map[uuid.UUID][][]byte),
		AutoEmit:    true,
		ActionSleep: DefaultActionSleep,
	}
}

func (m *MockTransport) sleep() {
	m.mu.Lock()
	d := m.ActionSleep
	m.mu.Unlock()
	time.Sleep(d)
}

// Scan reports every configured device once and then waits for ctx.
func (m *MockTransport) Scan(ctx context.Context, service uuid.UUID, found func(dispenser.Device)) error {
	m.sleep()

	m.mu.Lock()
	if m.ScanError != nil {
		err := m.ScanError
		m.mu.Unlock()
		return err
	}
	devices := append([]dispenser.Device(nil), m.Devices...)
	m.mu.Unlock()

	if service != dispenser.ServiceUUID {
		return fmt.Errorf("unknown service %s: %w", service, dispenser.ErrNotFound)
	}
	for _, d := range devices {
		found(d)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Connect opens a simulated link.
func (m *MockTransport) Connect(ctx context.Context, dev dispenser.Device) (dispenser.Link, error) {
	m.sleep()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectError != nil {
		return nil, m.ConnectError
	}
	m.link = &mockLink{transport: m, device: dev, watchers: make(map[int]func())}
	return m.link, nil
}

// Drop simulates the dispenser going out of range.
func (m *MockTransport) Drop() {
	m.mu.Lock()
	l := m.link
	m.link = nil
	m.mu.Unlock()
	if l != nil {
		l.drop()
	}
}

// Emit delivers a raw discovered-network notification to the current
// subscriber, if any. It reports whether a subscriber received it.
func (m *MockTransport) Emit(payload []byte) bool {
	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l == nil {
		return false
	}
	return l.emit(payload)
}

// EmitNetwork delivers n as a JSON notification.
func (m *MockTransport) EmitNetwork(n Network) bool {
	p, err := json.Marshal(n)
	if err != nil {
		return false
	}
	return m.Emit(p)
}

// SetStatus changes the status the dispenser reports on the next read.
func (m *MockTransport) SetStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Status = status
}

// Subscribed reports whether network notifications are currently enabled.
func (m *MockTransport) Subscribed() bool {
	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notify != nil
}

// WriteCount returns the number of writes made to a characteristic.
func (m *MockTransport) WriteCount(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Writes[id])
}

func (m *MockTransport) handleWrite(id uuid.UUID, p []byte) error {
	m.mu.Lock()
	if err := m.WriteErrors[id]; err != nil {
		m.mu.Unlock()
		return err
	}
	m.Writes[id] = append(m.Writes[id], append([]byte(nil), p...))

	switch id {
	case dispenser.ScanWifiUUID:
		if len(p) != 1 || p[0] != dispenser.ScanTrigger {
			m.mu.Unlock()
			return fmt.Errorf("unexpected scan trigger %v: %w", p, dispenser.ErrOperationFailed)
		}
		m.ScanCount++
		emit := m.AutoEmit
		networks := append([]Network(nil), m.Networks...)
		sleep := m.ActionSleep
		m.mu.Unlock()
		if emit {
			go func() {
				for _, n := range networks {
					time.Sleep(sleep / 2)
					m.EmitNetwork(n)
				}
			}()
		}
		return nil
	case dispenser.ConnectWifiUUID:
		ssid, credential, err := dispenser.DecodeJoin(p)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.Joins = append(m.Joins, Join{SSID: ssid, Credential: credential})
		m.Status = StatusJoining
		outcome := StatusFailed
		for _, n := range m.Networks {
			if n.SSID == ssid && (n.Encryption == "none" || n.Passphrase == credential) {
				outcome = StatusConnected
			}
		}
		sleep := m.ActionSleep
		m.mu.Unlock()
		go func() {
			time.Sleep(4 * sleep)
			m.SetStatus(outcome)
		}()
		return nil
	}
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) handleRead(id uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ReadErrors[id]; err != nil {
		return nil, err
	}
	switch id {
	case dispenser.StatusUUID:
		return []byte(m.Status), nil
	case dispenser.OnionAPIUUID:
		return []byte(m.OnionAPI), nil
	}
	return nil, fmt.Errorf("characteristic %s is not readable: %w", id, dispenser.ErrNotSupported)
}

type mockLink struct {
	transport *MockTransport
	device    dispenser.Device

	mu       sync.Mutex
	closed   bool
	watchers map[int]func()
	nextID   int
	notify   chan []byte
	done     chan struct{}
}

func (l *mockLink) Service(ctx context.Context, id uuid.UUID) (dispenser.Service, error) {
	l.transport.sleep()
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("link closed: %w", dispenser.ErrNotAvailable)
	}

	l.transport.mu.Lock()
	defer l.transport.mu.Unlock()
	if l.transport.ServiceError != nil {
		return nil, l.transport.ServiceError
	}
	if id != dispenser.ServiceUUID {
		return nil, fmt.Errorf("service %s: %w", id, dispenser.ErrNotFound)
	}
	return &mockService{link: l}, nil
}

func (l *mockLink) OnDisconnect(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.watchers[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.watchers, id)
	}
}

func (l *mockLink) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	l.transport.mu.Lock()
	if l.transport.link == l {
		l.transport.link = nil
	}
	l.transport.mu.Unlock()
	l.drop()
	return nil
}

func (l *mockLink) drop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	var watchers []func()
	for _, fn := range l.watchers {
		watchers = append(watchers, fn)
	}
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
	l.notify = nil
	l.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

func (l *mockLink) emit(p []byte) bool {
	l.mu.Lock()
	ch, done := l.notify, l.done
	l.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- p:
		return true
	case <-done:
		return false
	}
}

type mockService struct {
	link *mockLink
}

func (s *mockService) Characteristic(ctx context.Context, id uuid.UUID) (dispenser.Characteristic, error) {
	t := s.link.transport
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.MissingChars[id] {
		return nil, fmt.Errorf("characteristic %s: %w", id, dispenser.ErrNotFound)
	}
	switch id {
	case dispenser.StatusUUID, dispenser.ScanWifiUUID, dispenser.DiscoveredWifiUUID,
		dispenser.ConnectWifiUUID, dispenser.OnionAPIUUID:
		return &mockCharacteristic{link: s.link, id: id}, nil
	}
	return nil, fmt.Errorf("characteristic %s: %w", id, dispenser.ErrNotFound)
}

type mockCharacteristic struct {
	link *mockLink
	id   uuid.UUID
}

func (c *mockCharacteristic) alive() error {
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	if c.link.closed {
		return fmt.Errorf("link closed: %w", dispenser.ErrNotAvailable)
	}
	return nil
}

func (c *mockCharacteristic) Read(ctx context.Context) ([]byte, error) {
	c.link.transport.sleep()
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.link.transport.handleRead(c.id)
}

func (c *mockCharacteristic) Write(ctx context.Context, p []byte) error {
	c.link.transport.sleep()
	if err := c.alive(); err != nil {
		return err
	}
	return c.link.transport.handleWrite(c.id, p)
}

func (c *mockCharacteristic) Notify(ctx context.Context) (<-chan []byte, func() error, error) {
	if err := c.alive(); err != nil {
		return nil, nil, err
	}
	if c.id != dispenser.DiscoveredWifiUUID {
		return nil, nil, fmt.Errorf("characteristic %s does not notify: %w", c.id, dispenser.ErrNotSupported)
	}
	t := c.link.transport
	t.mu.Lock()
	err := t.NotifyError
	t.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan []byte)
	done := make(chan struct{})
	c.link.mu.Lock()
	if c.link.done != nil {
		close(c.link.done)
	}
	c.link.notify = ch
	c.link.done = done
	c.link.mu.Unlock()

	stop := func() error {
		c.link.mu.Lock()
		defer c.link.mu.Unlock()
		if c.link.notify == ch {
			c.link.notify = nil
			close(done)
			c.link.done = nil
		}
		if c.link.closed {
			return fmt.Errorf("link closed: %w", dispenser.ErrNotAvailable)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.StopNotifyError
	}
	return ch, stop, nil
}
