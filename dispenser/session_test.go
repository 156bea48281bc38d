package dispenser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Scripted doubles for the transport interfaces.

type scriptedTransport struct {
	mock.Mock
	device Device
}

func (t *scriptedTransport) Scan(ctx context.Context, service uuid.UUID, found func(Device)) error {
	found(t.device)
	<-ctx.Done()
	return ctx.Err()
}

func (t *scriptedTransport) Connect(ctx context.Context, dev Device) (Link, error) {
	args := t.Called(dev)
	link, _ := args.Get(0).(Link)
	return link, args.Error(1)
}

type scriptedLink struct {
	mock.Mock

	mu     sync.Mutex
	onDrop func()
}

func (l *scriptedLink) Service(ctx context.Context, id uuid.UUID) (Service, error) {
	args := l.Called(id)
	svc, _ := args.Get(0).(Service)
	return svc, args.Error(1)
}

func (l *scriptedLink) OnDisconnect(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDrop = fn
	return func() {}
}

func (l *scriptedLink) Disconnect() error {
	return l.Called().Error(0)
}

func (l *scriptedLink) drop() {
	l.mu.Lock()
	fn := l.onDrop
	l.mu.Unlock()
	fn()
}

type scriptedService struct {
	mock.Mock
}

func (s *scriptedService) Characteristic(ctx context.Context, id uuid.UUID) (Characteristic, error) {
	args := s.Called(id)
	ch, _ := args.Get(0).(Characteristic)
	return ch, args.Error(1)
}

type scriptedCharacteristic struct {
	mock.Mock
}

func (c *scriptedCharacteristic) Read(ctx context.Context) ([]byte, error) {
	args := c.Called(ctx)
	p, _ := args.Get(0).([]byte)
	return p, args.Error(1)
}

func (c *scriptedCharacteristic) Write(ctx context.Context, p []byte) error {
	return c.Called(ctx, p).Error(0)
}

func (c *scriptedCharacteristic) Notify(ctx context.Context) (<-chan []byte, func() error, error) {
	args := c.Called(ctx)
	values, _ := args.Get(0).(chan []byte)
	stop, _ := args.Get(1).(func() error)
	return values, stop, args.Error(2)
}

// newScriptedLink wires a link whose service answers every characteristic
// the client uses.
func newScriptedLink(status string) (*scriptedLink, *scriptedCharacteristic, chan []byte) {
	values := make(chan []byte)
	statusChar := &scriptedCharacteristic{}
	statusChar.On("Read", mock.Anything).Return([]byte(status), nil)
	onionChar := &scriptedCharacteristic{}
	onionChar.On("Read", mock.Anything).Return([]byte("abc.onion"), nil)
	discovered := &scriptedCharacteristic{}
	discovered.On("Notify", mock.Anything).Return(values, func() error { return nil }, nil)
	scan := &scriptedCharacteristic{}

	svc := &scriptedService{}
	svc.On("Characteristic", StatusUUID).Return(statusChar, nil)
	svc.On("Characteristic", OnionAPIUUID).Return(onionChar, nil)
	svc.On("Characteristic", DiscoveredWifiUUID).Return(discovered, nil)
	svc.On("Characteristic", ScanWifiUUID).Return(scan, nil)

	link := &scriptedLink{}
	link.On("Service", ServiceUUID).Return(svc, nil)
	link.On("Disconnect").Return(nil)
	return link, scan, values
}

func newScriptedClient(t *testing.T, opTimeout time.Duration) (*Client, *scriptedTransport) {
	t.Helper()
	tr := &scriptedTransport{device: Device{Address: "AA:BB:CC:DD:EE:FF", Name: "Dispenser"}}
	c := New(tr, Options{
		Supported: true,
		OpTimeout: opTimeout,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return c, tr
}

func TestStaleDisconnectSignalIgnored(t *testing.T) {
	c, tr := newScriptedClient(t, time.Second)
	first, _, _ := newScriptedLink("ready")
	second, _, _ := newScriptedLink("connected")
	tr.On("Connect", tr.device).Return(first, nil).Once()
	tr.On("Connect", tr.device).Return(second, nil).Once()

	c.Connect(context.Background())
	require.True(t, c.State().Connected)
	c.Disconnect()
	require.False(t, c.State().Connected)

	c.Connect(context.Background())
	require.True(t, c.State().Connected)
	require.Equal(t, "connected", c.State().Dispenser.Status)

	// A late signal from the first link must not end the second session.
	first.drop()
	st := c.State()
	assert.True(t, st.Connected)
	require.NotNil(t, st.Dispenser)

	second.drop()
	assert.False(t, c.State().Connected)
	tr.AssertExpectations(t)
	first.AssertCalled(t, "Disconnect")
}

func TestStaleFailureIgnored(t *testing.T) {
	c, tr := newScriptedClient(t, time.Second)
	link, _, _ := newScriptedLink("ready")
	tr.On("Connect", tr.device).Return(link, nil)

	c.Connect(context.Background())
	c.mu.Lock()
	gen := c.session.gen
	c.mu.Unlock()

	c.fail(gen-1, "scan", errors.New("late"))
	assert.NoError(t, c.State().Err)

	c.fail(gen, "scan", errors.New("current"))
	assert.Error(t, c.State().Err)
}

func TestStaleNotificationIgnored(t *testing.T) {
	c, tr := newScriptedClient(t, time.Second)
	link, _, values := newScriptedLink("ready")
	tr.On("Connect", tr.device).Return(link, nil)
	c.Connect(context.Background())

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	c.handleNetwork(epoch-1, []byte(`{"ssid":"old"}`))
	assert.Empty(t, c.State().AvailableWifis)

	values <- []byte(`{"ssid":"new"}`)
	require.Eventually(t, func() bool {
		return len(c.State().AvailableWifis) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWriteIsBoundedByOpTimeout(t *testing.T) {
	c, tr := newScriptedClient(t, 20*time.Millisecond)
	link, scan, _ := newScriptedLink("ready")
	tr.On("Connect", tr.device).Return(link, nil)
	scan.On("Write", mock.Anything, []byte{ScanTrigger}).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, ok := ctx.Deadline()
			assert.True(t, ok, "write context has no deadline")
			<-ctx.Done()
		}).
		Return(context.DeadlineExceeded)

	c.Connect(context.Background())
	c.ScanWifi(context.Background())

	st := c.State()
	assert.True(t, st.Connected)
	assert.ErrorIs(t, st.Err, context.DeadlineExceeded)
	scan.AssertExpectations(t)
}

func TestSetupStopsPreviousSubscription(t *testing.T) {
	c, tr := newScriptedClient(t, time.Second)
	link, _, _ := newScriptedLink("ready")
	tr.On("Connect", tr.device).Return(link, nil)

	var stops int
	var mu sync.Mutex
	discovered := &scriptedCharacteristic{}
	discovered.On("Notify", mock.Anything).Return(make(chan []byte), func() error {
		mu.Lock()
		defer mu.Unlock()
		stops++
		return errors.New("link already gone")
	}, nil)
	svc := &scriptedService{}
	statusChar := &scriptedCharacteristic{}
	statusChar.On("Read", mock.Anything).Return([]byte("ready"), nil)
	svc.On("Characteristic", StatusUUID).Return(statusChar, nil)
	svc.On("Characteristic", OnionAPIUUID).Return(statusChar, nil)
	svc.On("Characteristic", DiscoveredWifiUUID).Return(discovered, nil)
	link.ExpectedCalls = nil
	link.On("Service", ServiceUUID).Return(svc, nil)
	link.On("Disconnect").Return(nil)

	c.Connect(context.Background())
	c.ForceUpdate(context.Background())
	c.ForceUpdate(context.Background())

	mu.Lock()
	assert.Equal(t, 2, stops)
	mu.Unlock()
	discovered.AssertNumberOfCalls(t, "Notify", 3)

	c.Disconnect()
	mu.Lock()
	assert.Equal(t, 3, stops)
	mu.Unlock()
}
