//go:build darwin || windows

// Package ble is a transport on tinygo's bluetooth package, which wraps
// CoreBluetooth on macOS and WinRT on Windows.
package ble

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// Attribute values on the dispenser are small JSON documents.
const readBufferSize = 512

const notifyBufferSize = 16

// Transport finds and connects to dispensers through the default adapter.
type Transport struct {
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	mu    sync.Mutex
	links map[string]*Link
}

// New enables the default adapter.
func New(logger *slog.Logger) (*Transport, error) {
	t := &Transport{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		links:   make(map[string]*Link),
	}
	t.adapter.SetConnectHandler(t.connectionChanged)
	if err := t.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %v: %w", err, dispenser.ErrNotAvailable)
	}
	return t, nil
}

func (t *Transport) connectionChanged(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := addressKey(device.Address.String())
	t.mu.Lock()
	l := t.links[key]
	delete(t.links, key)
	t.mu.Unlock()
	if l != nil {
		l.lost()
	}
}

// Scan reports advertisements carrying the service UUID until ctx is done.
func (t *Transport) Scan(ctx context.Context, service uuid.UUID, found func(dispenser.Device)) error {
	want, err := bluetooth.ParseUUID(service.String())
	if err != nil {
		return fmt.Errorf("invalid service uuid %s: %w", service, err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var mu sync.Mutex
	stopped := false
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		if err := t.adapter.StopScan(); err != nil {
			t.logger.Debug("failed to stop scan", "error", err)
		}
	})
	defer stop()

	err = t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(want) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		found(dispenser.Device{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    result.RSSI,
		})
	})

	mu.Lock()
	stopped = true
	mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// Connect resolves the address from a previous scan and opens the link.
func (t *Transport) Connect(ctx context.Context, dev dispenser.Device) (dispenser.Link, error) {
	var addr bluetooth.Address
	addr.Set(dev.Address)

	device, err := await(ctx, func() (bluetooth.Device, error) {
		return t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	}, func(d bluetooth.Device) {
		// Connected after the caller gave up.
		d.Disconnect()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dev.Address, err)
	}

	l := &Link{
		transport: t,
		device:    device,
		address:   addressKey(dev.Address),
		watchers:  make(map[int]func()),
	}
	t.mu.Lock()
	t.links[l.address] = l
	t.mu.Unlock()
	return l, nil
}

func addressKey(address string) string {
	return strings.ToUpper(address)
}

// Link is a connected device.
type Link struct {
	transport *Transport
	device    bluetooth.Device
	address   string

	mu       sync.Mutex
	closed   bool
	watchers map[int]func()
	nextID   int
	notifies []*notification
}

func (l *Link) alive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("link to %s is closed: %w", l.address, dispenser.ErrNotAvailable)
	}
	return nil
}

func (l *Link) lost() {
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
	l.watchers = nil
	for _, n := range l.notifies {
		n.close()
	}
	l.notifies = nil
	l.mu.Unlock()

	l.transport.logger.Info("bluetooth device disconnected", "address", l.address)
	for _, fn := range watchers {
		fn()
	}
}

// forget drops a stopped subscription so it isn't closed again on teardown.
func (l *Link) forget(n *notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifies = slices.DeleteFunc(l.notifies, func(o *notification) bool { return o == n })
}

func (l *Link) OnDisconnect(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		go fn()
		return func() {}
	}
	l.nextID++
	id := l.nextID
	l.watchers[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.watchers, id)
	}
}

func (l *Link) Disconnect() error {
	t := l.transport
	t.mu.Lock()
	if t.links[l.address] == l {
		delete(t.links, l.address)
	}
	t.mu.Unlock()

	err := l.device.Disconnect()
	l.lost()
	return err
}

func (l *Link) Service(ctx context.Context, id uuid.UUID) (dispenser.Service, error) {
	if err := l.alive(); err != nil {
		return nil, err
	}
	want, err := bluetooth.ParseUUID(id.String())
	if err != nil {
		return nil, err
	}
	services, err := await(ctx, func() ([]bluetooth.DeviceService, error) {
		return l.device.DiscoverServices([]bluetooth.UUID{want})
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("service discovery failed: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("service %s: %w", id, dispenser.ErrNotFound)
	}
	return &Service{link: l, service: services[0]}, nil
}

// Service is a discovered GATT service.
type Service struct {
	link    *Link
	service bluetooth.DeviceService
}

func (s *Service) Characteristic(ctx context.Context, id uuid.UUID) (dispenser.Characteristic, error) {
	if err := s.link.alive(); err != nil {
		return nil, err
	}
	want, err := bluetooth.ParseUUID(id.String())
	if err != nil {
		return nil, err
	}
	chars, err := await(ctx, func() ([]bluetooth.DeviceCharacteristic, error) {
		return s.service.DiscoverCharacteristics([]bluetooth.UUID{want})
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("characteristic discovery failed: %w", err)
	}
	for _, c := range chars {
		if c.UUID() == want {
			return &Characteristic{link: s.link, char: c}, nil
		}
	}
	return nil, fmt.Errorf("characteristic %s: %w", id, dispenser.ErrNotFound)
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	link *Link
	char bluetooth.DeviceCharacteristic
}

func (c *Characteristic) Read(ctx context.Context) ([]byte, error) {
	if err := c.link.alive(); err != nil {
		return nil, err
	}
	return await(ctx, func() ([]byte, error) {
		buf := make([]byte, readBufferSize)
		n, err := c.char.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}, nil)
}

func (c *Characteristic) Write(ctx context.Context, p []byte) error {
	if err := c.link.alive(); err != nil {
		return err
	}
	_, err := await(ctx, func() (int, error) {
		return c.char.Write(p)
	}, nil)
	return err
}

type notification struct {
	values chan []byte
	done   chan struct{}
	once   sync.Once
}

func (n *notification) close() {
	n.once.Do(func() { close(n.done) })
}

func (c *Characteristic) Notify(ctx context.Context) (<-chan []byte, func() error, error) {
	if err := c.link.alive(); err != nil {
		return nil, nil, err
	}
	n := &notification{values: make(chan []byte, notifyBufferSize), done: make(chan struct{})}
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, c.char.EnableNotifications(func(buf []byte) {
			p := append([]byte(nil), buf...)
			select {
			case n.values <- p:
			case <-n.done:
			}
		})
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enable notifications: %w", err)
	}

	c.link.mu.Lock()
	c.link.notifies = append(c.link.notifies, n)
	c.link.mu.Unlock()

	stop := func() error {
		n.close()
		c.link.forget(n)
		if err := c.link.alive(); err != nil {
			return err
		}
		return c.char.EnableNotifications(nil)
	}
	return n.values, stop, nil
}

// await runs fn on its own goroutine so ctx can bound calls the bluetooth
// package offers no cancellation for. If ctx ends first, late is called with
// the eventual result of a successful fn.
func await[T any](ctx context.Context, fn func() (T, error), late func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		if late != nil {
			go func() {
				if r := <-ch; r.err == nil {
					late(r.v)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
