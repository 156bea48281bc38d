package dispenser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultOpTimeout      = 10 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	// Supported is whether the host has a usable Bluetooth adapter. When
	// false every operation is a logged no-op.
	Supported bool
	// Chooser picks the device to pair with. Defaults to FirstDevice.
	Chooser Chooser
	// ClearOnRescan empties the network list each time ScanWifi is called.
	// When false, networks accumulate across scans.
	ClearOnRescan bool
	// OpTimeout bounds every service lookup, read and write. Zero means
	// DefaultOpTimeout, a negative value disables the bound.
	OpTimeout time.Duration
	// ConnectTimeout bounds device selection plus opening the link.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

type session struct {
	gen       uint64
	link      Link
	device    Device
	stopWatch func()
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	stop   func() error
}

type watcher struct {
	id int
	fn func(State)
}

// snapshotUpdate is either replaceSnapshot or clearSnapshot.
type snapshotUpdate interface {
	snapshot() *Snapshot
}

type replaceSnapshot struct{ Snapshot }

func (u replaceSnapshot) snapshot() *Snapshot {
	s := u.Snapshot
	return &s
}

type clearSnapshot struct{}

func (clearSnapshot) snapshot() *Snapshot { return nil }

// Client manages the single link to a dispenser. It is the only writer of
// the published State; operations never return errors, failures are logged
// and recorded in State.Err.
type Client struct {
	transport Transport
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	session  *session
	gen      uint64
	epoch    uint64
	refresh  uint64
	sub      *subscription
	watchers []watcher
	nextID   int
}

// New creates a Client. A nil transport is treated as unsupported.
func New(t Transport, opts Options) *Client {
	if opts.Chooser == nil {
		opts.Chooser = FirstDevice
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if t == nil {
		opts.Supported = false
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: t,
		opts:      opts,
		logger:    logger,
		state:     State{Supported: opts.Supported},
	}
}

// State returns the current published state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch calls fn with the current state and then after every change. fn is
// called with the client's lock held: it must not block or call back into
// the Client.
func (c *Client) Watch(fn func(State)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.watchers = append(c.watchers, watcher{id: id, fn: fn})
	fn(c.state)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, w := range c.watchers {
			if w.id == id {
				c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) publishLocked() {
	for _, w := range c.watchers {
		w.fn(c.state)
	}
}

func (c *Client) applySnapshotLocked(u snapshotUpdate) {
	c.state.Dispenser = u.snapshot()
}

// Connect asks the chooser for a dispenser and opens a link to it, then
// reads its attributes and subscribes to discovered networks. A cancelled
// selection is not an error. Connecting is reset on every return path.
func (c *Client) Connect(ctx context.Context) {
	if !c.opts.Supported {
		c.logger.Warn("unable to connect", "error", ErrNotSupported)
		return
	}

	c.mu.Lock()
	if c.session != nil || c.state.Connecting {
		c.mu.Unlock()
		c.logger.Warn("connect called while a dispenser is already paired or pairing")
		return
	}
	c.state.Connecting = true
	c.publishLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state.Connecting = false
		c.publishLocked()
		c.mu.Unlock()
	}()

	s, err := c.open(ctx)
	if err != nil {
		if errors.Is(err, ErrSelectionCancelled) {
			c.logger.Info("device selection ended without a dispenser", "reason", err)
			return
		}
		c.logger.Error("unable to connect", "error", err)
		c.mu.Lock()
		c.state.Err = &OpError{Op: "connect", Err: err}
		c.publishLocked()
		c.mu.Unlock()
		return
	}
	c.setup(ctx, s)
}

func (c *Client) open(ctx context.Context) (*session, error) {
	ctx, cancel := withTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	dev, err := RequestDevice(ctx, c.transport, c.opts.Chooser)
	if err != nil {
		return nil, err
	}
	c.logger.Info("pairing with dispenser", "device", dev.String())
	link, err := c.transport.Connect(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dev, err)
	}

	c.mu.Lock()
	c.gen++
	s := &session{gen: c.gen, link: link, device: dev}
	c.session = s
	c.state.Connected = true
	c.state.Device = dev
	c.state.Err = nil
	c.publishLocked()
	c.mu.Unlock()

	stop := link.OnDisconnect(func() { c.dropped(s.gen) })
	c.mu.Lock()
	s.stopWatch = stop
	c.mu.Unlock()
	return s, nil
}

// dropped ends the session with the given generation. Stale generations are
// ignored, so a late signal can't clear a newer session.
func (c *Client) dropped(gen uint64) {
	c.mu.Lock()
	if c.session == nil || c.session.gen != gen {
		c.mu.Unlock()
		return
	}
	c.logger.Info("dispenser disconnected", "device", c.session.device.String())
	c.session = nil
	c.epoch++
	c.state.Connected = false
	c.state.Device = Device{}
	c.applySnapshotLocked(clearSnapshot{})
	c.publishLocked()
	c.mu.Unlock()

	c.teardown()
}

// Disconnect closes the current link. It does nothing when no dispenser is
// paired.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.session
	var stopWatch func()
	if s != nil {
		stopWatch = s.stopWatch
	}
	c.mu.Unlock()

	if s == nil {
		c.logger.Debug("disconnect called without a paired dispenser")
		return
	}
	if stopWatch != nil {
		stopWatch()
	}
	if err := s.link.Disconnect(); err != nil {
		c.logger.Warn("disconnect failed", "error", err)
	}
	c.dropped(s.gen)
}

// ForceUpdate re-runs the per-session setup without reconnecting.
func (c *Client) ForceUpdate(ctx context.Context) {
	c.mu.Lock()
	c.refresh++
	c.logger.Debug("refreshing dispenser attributes", "refresh", c.refresh)
	s := c.session
	if s == nil {
		c.applySnapshotLocked(clearSnapshot{})
		c.publishLocked()
	}
	c.mu.Unlock()

	if s != nil {
		c.setup(ctx, s)
	}
}

// setup tears down the previous subscription, then reads the attributes and
// subscribes to network notifications for s. Failures leave the published
// snapshot untouched.
func (c *Client) setup(ctx context.Context, s *session) {
	c.teardown()

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	snap, sub, err := c.readAttributes(ctx, s, epoch)
	if err != nil {
		c.logger.Error("unable to read dispenser", "error", err)
		c.fail(s.gen, "refresh", err)
		return
	}

	c.mu.Lock()
	if c.session != s || c.epoch != epoch {
		c.mu.Unlock()
		c.stopSubscription(sub)
		return
	}
	old := c.sub
	c.sub = sub
	c.applySnapshotLocked(replaceSnapshot{snap})
	c.state.Err = nil
	c.publishLocked()
	c.mu.Unlock()

	c.stopSubscription(old)
}

func (c *Client) readAttributes(ctx context.Context, s *session, epoch uint64) (Snapshot, *subscription, error) {
	var snap Snapshot

	svc, err := c.service(ctx, s)
	if err != nil {
		return snap, nil, err
	}

	var status, discovered, onion Characteristic
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		status, err = c.characteristic(gctx, svc, StatusUUID)
		return err
	})
	g.Go(func() (err error) {
		discovered, err = c.characteristic(gctx, svc, DiscoveredWifiUUID)
		return err
	})
	g.Go(func() (err error) {
		onion, err = c.characteristic(gctx, svc, OnionAPIUUID)
		return err
	})
	if err := g.Wait(); err != nil {
		return snap, nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.read(gctx, status)
		snap.Status = decodeText(v)
		return err
	})
	g.Go(func() error {
		v, err := c.read(gctx, onion)
		snap.OnionAPI = decodeText(v)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, nil, err
	}

	sub, err := c.subscribe(ctx, epoch, discovered)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, sub, nil
}

func (c *Client) subscribe(ctx context.Context, epoch uint64, ch Characteristic) (*subscription, error) {
	startCtx, cancelStart := withTimeout(ctx, c.opts.OpTimeout)
	defer cancelStart()
	values, stop, err := ch.Notify(startCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to start network notifications: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, done: make(chan struct{}), stop: stop}
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-values:
				if !ok {
					return
				}
				c.handleNetwork(epoch, p)
			}
		}
	}()
	return sub, nil
}

func (c *Client) handleNetwork(epoch uint64, p []byte) {
	n, err := DecodeNetwork(p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	if err != nil {
		c.logger.Warn("dropping malformed network notification", "error", err, "payload", string(p))
		c.state.Err = &OpError{Op: "notify", Err: err}
		c.publishLocked()
		return
	}
	c.state.AvailableWifis = Reconcile(c.state.AvailableWifis, n)
	c.publishLocked()
}

// teardown stops the current subscription: the consumer first, then the
// notifications themselves.
func (c *Client) teardown() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	c.stopSubscription(sub)
}

func (c *Client) stopSubscription(sub *subscription) {
	if sub == nil {
		return
	}
	sub.cancel()
	<-sub.done
	if err := sub.stop(); err != nil {
		// The link is often already gone by now.
		c.logger.Debug("failed to stop network notifications", "error", err)
	}
}

// ScanWifi asks the dispenser to scan for networks. Results arrive
// asynchronously through the network notifications.
func (c *Client) ScanWifi(ctx context.Context) {
	s := c.current()
	if s == nil {
		c.logger.Warn("unable to scan wifis", "error", ErrNoSession)
		return
	}

	if c.opts.ClearOnRescan {
		c.mu.Lock()
		if c.session == s && len(c.state.AvailableWifis) > 0 {
			c.state.AvailableWifis = nil
			c.publishLocked()
		}
		c.mu.Unlock()
	}

	if err := c.write(ctx, s, ScanWifiUUID, []byte{ScanTrigger}); err != nil {
		c.logger.Error("unable to scan wifis", "error", err)
		c.fail(s.gen, "scan", err)
		return
	}
	c.succeeded(s.gen)
}

// ConnectWifi asks the dispenser to join the network with the credential.
// The outcome shows up later in the dispenser's status.
func (c *Client) ConnectWifi(ctx context.Context, ssid, credential string) {
	s := c.current()
	if s == nil {
		c.logger.Warn("unable to connect wifi", "ssid", ssid, "error", ErrNoSession)
		return
	}

	payload, err := EncodeJoin(ssid, credential)
	if err != nil {
		c.logger.Error("unable to connect wifi", "ssid", ssid, "error", err)
		c.fail(s.gen, "join", err)
		return
	}
	if err := c.write(ctx, s, ConnectWifiUUID, payload); err != nil {
		c.logger.Error("unable to connect wifi", "ssid", ssid, "error", err)
		c.fail(s.gen, "join", err)
		return
	}
	c.logger.Info("sent wifi credentials", "ssid", ssid)
	c.succeeded(s.gen)
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// fail records err unless the session it belongs to has since ended.
func (c *Client) fail(gen uint64, op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.gen != gen {
		return
	}
	c.state.Err = &OpError{Op: op, Err: err}
	c.publishLocked()
}

func (c *Client) succeeded(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.gen != gen || c.state.Err == nil {
		return
	}
	c.state.Err = nil
	c.publishLocked()
}

func (c *Client) write(ctx context.Context, s *session, id uuid.UUID, p []byte) error {
	svc, err := c.service(ctx, s)
	if err != nil {
		return err
	}
	ch, err := c.characteristic(ctx, svc, id)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := ch.Write(ctx, p); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}
	return nil
}

func (c *Client) service(ctx context.Context, s *session) (Service, error) {
	ctx, cancel := withTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	svc, err := s.link.Service(ctx, ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s: %w", ServiceUUID, err)
	}
	return svc, nil
}

func (c *Client) characteristic(ctx context.Context, svc Service, id uuid.UUID) (Characteristic, error) {
	ctx, cancel := withTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	ch, err := svc.Characteristic(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get characteristic %s: %w", id, err)
	}
	return ch, nil
}

func (c *Client) read(ctx context.Context, ch Characteristic) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	return ch.Read(ctx)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
