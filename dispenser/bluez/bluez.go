//go:build linux

package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

const (
	bluezDest         = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	gattServiceIface  = "org.bluez.GattService1"
	gattCharIface     = "org.bluez.GattCharacteristic1"
	objectManager     = "org.freedesktop.DBus.ObjectManager"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	propertiesChanged = propertiesIface + ".PropertiesChanged"
)

const (
	DefaultAdapter = "hci0"

	scanPollInterval     = 500 * time.Millisecond
	resolvePollInterval  = 200 * time.Millisecond
	signalBufferCapacity = 64
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Transport talks to dispensers through BlueZ on the system bus.
type Transport struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	logger      *slog.Logger
}

// New connects to BlueZ and checks that the adapter is present and powered.
func New(adapter string, logger *slog.Logger) (*Transport, error) {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", dispenser.ErrNotAvailable)
	}
	t := &Transport{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
		logger:      logger,
	}
	powered, err := getProperty[bool](conn, t.adapterPath, adapterIface, "Powered")
	if err != nil {
		return nil, fmt.Errorf("bluez adapter %s is not available: %w", adapter, dispenser.ErrNotAvailable)
	}
	if !powered {
		return nil, fmt.Errorf("bluez adapter %s is powered off: %w", adapter, dispenser.ErrNotAvailable)
	}
	return t, nil
}

// Scan starts LE discovery filtered to service and polls BlueZ's object tree
// for matching devices until ctx is done.
func (t *Transport) Scan(ctx context.Context, service uuid.UUID, found func(dispenser.Device)) error {
	adapter := t.conn.Object(bluezDest, t.adapterPath)
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
		"UUIDs":     dbus.MakeVariant([]string{service.String()}),
	}
	if call := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("failed to set discovery filter: %w", call.Err)
	}
	if call := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("failed to start discovery: %w", call.Err)
	}
	defer func() {
		if call := adapter.Call(adapterIface+".StopDiscovery", 0); call.Err != nil {
			t.logger.Debug("failed to stop discovery", "error", call.Err)
		}
	}()

	ticker := time.NewTicker(scanPollInterval)
	defer ticker.Stop()
	for {
		objects, err := t.objects(ctx)
		if err != nil {
			t.logger.Debug("failed to list bluez objects", "error", err)
		}
		for path, ifaces := range objects {
			props, ok := ifaces[deviceIface]
			if !ok || !strings.HasPrefix(string(path), string(t.adapterPath)+"/") {
				continue
			}
			if !hasUUID(props["UUIDs"], service) {
				continue
			}
			dev := dispenser.Device{}
			dev.Address, _ = props["Address"].Value().(string)
			dev.Name, _ = props["Name"].Value().(string)
			dev.RSSI, _ = props["RSSI"].Value().(int16)
			if dev.Address == "" {
				continue
			}
			found(dev)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Connect opens the link and waits until BlueZ has resolved the GATT
// services.
func (t *Transport) Connect(ctx context.Context, dev dispenser.Device) (dispenser.Link, error) {
	path := devicePath(t.adapterPath, dev.Address)
	l := &Link{
		transport: t,
		path:      path,
		signals:   make(chan *dbus.Signal, signalBufferCapacity),
		matches: []dbus.MatchOption{
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchOption("path_namespace", string(path)),
		},
		watchers: make(map[int]func()),
		notify:   make(map[dbus.ObjectPath]*notification),
		done:     make(chan struct{}),
	}

	// Listen before connecting so a drop during service resolution is seen.
	if err := t.conn.AddMatchSignal(l.matches...); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", dev.Address, err)
	}
	t.conn.Signal(l.signals)
	go l.dispatch()

	device := t.conn.Object(bluezDest, path)
	if call := device.CallWithContext(ctx, deviceIface+".Connect", 0); call.Err != nil {
		l.close()
		return nil, fmt.Errorf("bluez connect failed for %s: %w", dev.Address, call.Err)
	}
	if err := t.waitServicesResolved(ctx, path); err != nil {
		l.Disconnect()
		return nil, err
	}
	if mtu, err := getProperty[uint16](t.conn, path, deviceIface, "MTU"); err == nil {
		t.logger.Debug("negotiated mtu", "device", dev.Address, "mtu", mtu)
	}
	return l, nil
}

func (t *Transport) waitServicesResolved(ctx context.Context, path dbus.ObjectPath) error {
	ticker := time.NewTicker(resolvePollInterval)
	defer ticker.Stop()
	for {
		resolved, err := getProperty[bool](t.conn, path, deviceIface, "ServicesResolved")
		if err == nil && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("service discovery did not finish: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Transport) objects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	call := t.conn.Object(bluezDest, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to parse managed objects: %w", err)
	}
	return objects, nil
}

// findChild returns the object below parent that implements iface and has
// the given UUID.
func (t *Transport) findChild(ctx context.Context, parent dbus.ObjectPath, parentProp, iface string, id uuid.UUID) (dbus.ObjectPath, error) {
	objects, err := t.objects(ctx)
	if err != nil {
		return "", err
	}
	for path, ifaces := range objects {
		props, ok := ifaces[iface]
		if !ok {
			continue
		}
		if owner, _ := props[parentProp].Value().(dbus.ObjectPath); owner != parent {
			continue
		}
		if s, _ := props["UUID"].Value().(string); strings.EqualFold(s, id.String()) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s %s: %w", iface, id, dispenser.ErrNotFound)
}

type notification struct {
	values chan []byte
	done   chan struct{}
}

// Link is an open connection to one device. A single goroutine routes the
// device's PropertiesChanged signals to disconnect observers and
// characteristic subscribers.
type Link struct {
	transport *Transport
	path      dbus.ObjectPath
	signals   chan *dbus.Signal
	matches   []dbus.MatchOption

	mu       sync.Mutex
	closed   bool
	watchers map[int]func()
	nextID   int
	notify   map[dbus.ObjectPath]*notification
	done     chan struct{}
}

func (l *Link) dispatch() {
	for {
		select {
		case <-l.done:
			return
		case sig := <-l.signals:
			if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
				continue
			}
			iface, ok := sig.Body[0].(string)
			if !ok {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			switch iface {
			case deviceIface:
				if v, ok := changed["Connected"]; ok && sig.Path == l.path {
					if connected, _ := v.Value().(bool); !connected {
						l.lost()
						return
					}
				}
			case gattCharIface:
				if v, ok := changed["Value"]; ok {
					if p, ok := v.Value().([]byte); ok {
						l.deliver(sig.Path, p)
					}
				}
			}
		}
	}
}

func (l *Link) deliver(path dbus.ObjectPath, p []byte) {
	l.mu.Lock()
	n := l.notify[path]
	l.mu.Unlock()
	if n == nil {
		return
	}
	select {
	case n.values <- p:
	case <-n.done:
	case <-l.done:
	}
}

// close releases the signal subscription and reports whether this call
// closed the link.
func (l *Link) close() (watchers []func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}
	l.closed = true
	close(l.done)
	for path, n := range l.notify {
		close(n.done)
		delete(l.notify, path)
	}
	for _, fn := range l.watchers {
		watchers = append(watchers, fn)
	}
	l.watchers = nil

	conn := l.transport.conn
	conn.RemoveSignal(l.signals)
	if err := conn.RemoveMatchSignal(l.matches...); err != nil {
		l.transport.logger.Debug("failed to remove signal match", "error", err)
	}
	return watchers, true
}

func (l *Link) lost() {
	watchers, ok := l.close()
	if !ok {
		return
	}
	l.transport.logger.Info("bluez device disconnected", "path", l.path)
	for _, fn := range watchers {
		fn()
	}
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
	device := l.transport.conn.Object(bluezDest, l.path)
	call := device.Call(deviceIface+".Disconnect", 0)
	l.lost()
	if call.Err != nil {
		return fmt.Errorf("bluez disconnect failed: %w", call.Err)
	}
	return nil
}

func (l *Link) alive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("link to %s is closed: %w", l.path, dispenser.ErrNotAvailable)
	}
	return nil
}

func (l *Link) Service(ctx context.Context, id uuid.UUID) (dispenser.Service, error) {
	if err := l.alive(); err != nil {
		return nil, err
	}
	path, err := l.transport.findChild(ctx, l.path, "Device", gattServiceIface, id)
	if err != nil {
		return nil, err
	}
	return &Service{link: l, path: path}, nil
}

// Service is a resolved GATT service.
type Service struct {
	link *Link
	path dbus.ObjectPath
}

func (s *Service) Characteristic(ctx context.Context, id uuid.UUID) (dispenser.Characteristic, error) {
	if err := s.link.alive(); err != nil {
		return nil, err
	}
	path, err := s.link.transport.findChild(ctx, s.path, "Service", gattCharIface, id)
	if err != nil {
		return nil, err
	}
	return &Characteristic{link: s.link, path: path}, nil
}

// Characteristic is a resolved GATT characteristic.
type Characteristic struct {
	link *Link
	path dbus.ObjectPath
}

func (c *Characteristic) object() dbus.BusObject {
	return c.link.transport.conn.Object(bluezDest, c.path)
}

func (c *Characteristic) Read(ctx context.Context) ([]byte, error) {
	if err := c.link.alive(); err != nil {
		return nil, err
	}
	call := c.object().CallWithContext(ctx, gattCharIface+".ReadValue", 0, map[string]dbus.Variant{})
	if call.Err != nil {
		return nil, fmt.Errorf("ReadValue failed: %w", call.Err)
	}
	var data []byte
	if err := call.Store(&data); err != nil {
		return nil, fmt.Errorf("failed to decode read result: %w", err)
	}
	return data, nil
}

func (c *Characteristic) Write(ctx context.Context, p []byte) error {
	if err := c.link.alive(); err != nil {
		return err
	}
	call := c.object().CallWithContext(ctx, gattCharIface+".WriteValue", 0, p, map[string]dbus.Variant{
		"type": dbus.MakeVariant("request"),
	})
	if call.Err != nil {
		return fmt.Errorf("WriteValue failed: %w", call.Err)
	}
	return nil
}

func (c *Characteristic) Notify(ctx context.Context) (<-chan []byte, func() error, error) {
	n := &notification{values: make(chan []byte), done: make(chan struct{})}

	c.link.mu.Lock()
	if c.link.closed {
		c.link.mu.Unlock()
		return nil, nil, fmt.Errorf("link to %s is closed: %w", c.link.path, dispenser.ErrNotAvailable)
	}
	if old := c.link.notify[c.path]; old != nil {
		close(old.done)
	}
	c.link.notify[c.path] = n
	c.link.mu.Unlock()

	unregister := func() {
		c.link.mu.Lock()
		defer c.link.mu.Unlock()
		if c.link.notify[c.path] == n {
			delete(c.link.notify, c.path)
			close(n.done)
		}
	}

	if call := c.object().CallWithContext(ctx, gattCharIface+".StartNotify", 0); call.Err != nil {
		unregister()
		return nil, nil, fmt.Errorf("StartNotify failed: %w", call.Err)
	}

	stop := func() error {
		unregister()
		if err := c.link.alive(); err != nil {
			return err
		}
		if call := c.object().Call(gattCharIface+".StopNotify", 0); call.Err != nil {
			return fmt.Errorf("StopNotify failed: %w", call.Err)
		}
		return nil
	}
	return n.values, stop, nil
}

// devicePath converts a MAC address to a BlueZ object path, for example
// AA:BB:CC:DD:EE:FF becomes /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ToUpper(strings.ReplaceAll(address, ":", "_"))))
}

func hasUUID(v dbus.Variant, id uuid.UUID) bool {
	uuids, _ := v.Value().([]string)
	for _, s := range uuids {
		if strings.EqualFold(s, id.String()) {
			return true
		}
	}
	return false
}

func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	v, err := conn.Object(bluezDest, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, v.Value())
	}
	return val, nil
}
