package dispenser_test

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
	"github.com/stretchr/testify/require"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
	"github.com/sweetbit-io/dispenser-setup/dispenser/mock"
)

func newTestClient(t *testing.T, opts dispenser.Options) (*dispenser.Client, *mock.MockTransport) {
	t.Helper()
	m := mock.New()
	m.ActionSleep = 0
	m.AutoEmit = false

	opts.Supported = true
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = time.Second
	}
	c := dispenser.New(m, opts)
	t.Cleanup(c.Disconnect)
	return c, m
}

func connected(t *testing.T, opts dispenser.Options) (*dispenser.Client, *mock.MockTransport) {
	t.Helper()
	c, m := newTestClient(t, opts)
	c.Connect(context.Background())
	require.True(t, c.State().Connected, "expected a paired dispenser, got %+v", c.State())
	return c, m
}

func wifiCount(c *dispenser.Client) func() bool {
	return func() bool { return len(c.State().AvailableWifis) > 0 }
}

func opError(t *testing.T, err error) *dispenser.OpError {
	t.Helper()
	var opErr *dispenser.OpError
	require.ErrorAs(t, err, &opErr)
	return opErr
}

func TestConnectReadsSnapshot(t *testing.T) {
	c, m := connected(t, dispenser.Options{})

	st := c.State()
	assert.False(t, st.Connecting)
	assert.NoError(t, st.Err)
	assert.Equal(t, m.Devices[0].Address, st.Device.Address)
	require.NotNil(t, st.Dispenser)
	assert.Equal(t, mock.StatusReady, st.Dispenser.Status)
	assert.Equal(t, m.OnionAPI, st.Dispenser.OnionAPI)
	assert.True(t, m.Subscribed())
}

func TestConnectingFlag(t *testing.T) {
	var mu sync.Mutex
	var seen []bool
	record := func(st dispenser.State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st.Connecting)
	}

	t.Run("success", func(t *testing.T) {
		mu.Lock()
		seen = nil
		mu.Unlock()
		c, _ := newTestClient(t, dispenser.Options{})
		defer c.Watch(record)()
		c.Connect(context.Background())

		assert.False(t, c.State().Connecting)
		mu.Lock()
		assert.Contains(t, seen, true)
		mu.Unlock()
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled := func(ctx context.Context, _ <-chan dispenser.Device) (dispenser.Device, error) {
			return dispenser.Device{}, dispenser.ErrSelectionCancelled
		}
		c, m := newTestClient(t, dispenser.Options{Chooser: cancelled})
		c.Connect(context.Background())

		st := c.State()
		assert.False(t, st.Connecting)
		assert.False(t, st.Connected)
		assert.Nil(t, st.Dispenser)
		assert.NoError(t, st.Err, "a cancelled prompt is not an error")

		c.ScanWifi(context.Background())
		assert.Zero(t, m.WriteCount(dispenser.ScanWifiUUID))
	})

	t.Run("error", func(t *testing.T) {
		c, m := newTestClient(t, dispenser.Options{})
		m.ConnectError = errors.New("gatt server unreachable")
		c.Connect(context.Background())

		st := c.State()
		assert.False(t, st.Connecting)
		assert.False(t, st.Connected)
		assert.Equal(t, "connect", opError(t, st.Err).Op)
	})

	t.Run("scan error", func(t *testing.T) {
		c, m := newTestClient(t, dispenser.Options{})
		m.ScanError = errors.New("adapter powered off")
		c.Connect(context.Background())

		st := c.State()
		assert.False(t, st.Connecting)
		assert.Equal(t, "connect", opError(t, st.Err).Op)
	})
}

func TestConnectTimesOutWithoutDevices(t *testing.T) {
	c, m := newTestClient(t, dispenser.Options{ConnectTimeout: 50 * time.Millisecond})
	m.Devices = nil
	c.Connect(context.Background())

	st := c.State()
	assert.False(t, st.Connecting)
	assert.False(t, st.Connected)
	assert.NoError(t, st.Err)
}

func TestAddressChooser(t *testing.T) {
	c, m := newTestClient(t, dispenser.Options{Chooser: dispenser.AddressChooser("c0:ff:ee:00:00:02")})
	m.Devices = append(m.Devices, dispenser.Device{Address: "C0:FF:EE:00:00:02", Name: "Second"})
	c.Connect(context.Background())

	assert.Equal(t, "Second", c.State().Device.Name)
}

func TestSecondConnectIsIgnored(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	m.ConnectError = errors.New("should not be called")
	c.Connect(context.Background())

	st := c.State()
	assert.True(t, st.Connected)
	assert.NoError(t, st.Err)
}

func TestUnsupported(t *testing.T) {
	c := dispenser.New(nil, dispenser.Options{Supported: true, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	c.Connect(context.Background())
	c.ScanWifi(context.Background())
	c.ConnectWifi(context.Background(), "home", "secret")
	c.ForceUpdate(context.Background())
	c.Disconnect()

	st := c.State()
	assert.False(t, st.Supported)
	assert.False(t, st.Connected)
	assert.False(t, st.Connecting)
}

func TestDisconnectSignalClearsState(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	require.NotNil(t, c.State().Dispenser)

	m.Drop()

	st := c.State()
	assert.False(t, st.Connected)
	assert.Nil(t, st.Dispenser)

	c.ScanWifi(context.Background())
	c.ConnectWifi(context.Background(), "home", "secret")
	assert.Zero(t, m.WriteCount(dispenser.ScanWifiUUID))
	assert.Zero(t, m.WriteCount(dispenser.ConnectWifiUUID))
	assert.Empty(t, m.Joins)
}

func TestExplicitDisconnect(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	c.Disconnect()

	st := c.State()
	assert.False(t, st.Connected)
	assert.Nil(t, st.Dispenser)
	assert.False(t, m.Subscribed())

	// Twice is fine.
	c.Disconnect()
}

func TestReconnectAfterDrop(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	m.Drop()
	require.False(t, c.State().Connected)

	c.Connect(context.Background())
	require.True(t, c.State().Connected)
	require.NotNil(t, c.State().Dispenser)

	require.True(t, m.EmitNetwork(mock.Network{SSID: "home", Encryption: "wpa2"}))
	require.Eventually(t, wifiCount(c), time.Second, 5*time.Millisecond)
}

func TestScanWithoutSession(t *testing.T) {
	c, m := newTestClient(t, dispenser.Options{})
	c.ScanWifi(context.Background())

	assert.Zero(t, m.ScanCount)
	assert.NoError(t, c.State().Err)
}

func TestNotificationsReconcile(t *testing.T) {
	c, m := connected(t, dispenser.Options{})

	for _, p := range []string{
		`{"ssid":"cafe","encryption":"none"}`,
		`{"ssid":"home","encryption":"wpa2"}`,
		`{"ssid":"cafe","encryption":"wpa2"}`,
	} {
		require.True(t, m.Emit([]byte(p)))
	}

	require.Eventually(t, func() bool {
		wifis := c.State().AvailableWifis
		return len(wifis) == 2 && wifis[0].Encryption == "wpa2"
	}, time.Second, 5*time.Millisecond)

	wifis := c.State().AvailableWifis
	assert.Equal(t, "cafe", wifis[0].SSID)
	assert.Equal(t, "home", wifis[1].SSID)
}

func TestMalformedNotificationIsDropped(t *testing.T) {
	c, m := connected(t, dispenser.Options{})

	require.True(t, m.Emit([]byte(`{"ssid":"cafe","encryption":"none"}`)))
	require.True(t, m.Emit([]byte(`{{{ not json`)))
	require.Eventually(t, func() bool { return c.State().Err != nil }, time.Second, 5*time.Millisecond)

	st := c.State()
	assert.Equal(t, "notify", opError(t, st.Err).Op)
	require.Len(t, st.AvailableWifis, 1)

	require.True(t, m.Emit([]byte(`{"ssid":"home","encryption":"wpa2"}`)))
	require.Eventually(t, func() bool { return len(c.State().AvailableWifis) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.State().Connected)
}

func TestClearOnRescan(t *testing.T) {
	for _, clear := range []bool{false, true} {
		c, m := connected(t, dispenser.Options{ClearOnRescan: clear})
		require.True(t, m.EmitNetwork(mock.Network{SSID: "cafe", Encryption: "none"}))
		require.Eventually(t, wifiCount(c), time.Second, 5*time.Millisecond)

		c.ScanWifi(context.Background())

		assert.Equal(t, 1, m.ScanCount)
		want := 1
		if clear {
			want = 0
		}
		assert.Len(t, c.State().AvailableWifis, want, "ClearOnRescan=%v", clear)
	}
}

func TestScanWritesTrigger(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	c.ScanWifi(context.Background())
	c.ScanWifi(context.Background())

	assert.Equal(t, 2, m.ScanCount)
	for _, p := range m.Writes[dispenser.ScanWifiUUID] {
		assert.Equal(t, []byte{dispenser.ScanTrigger}, p)
	}
}

func TestScanResultsArriveAsNotifications(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	m.AutoEmit = true

	c.ScanWifi(context.Background())
	require.Eventually(t, func() bool {
		return len(c.State().AvailableWifis) == len(m.Networks)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, m.Networks[0].SSID, c.State().AvailableWifis[0].SSID)
}

func TestScanWriteFailure(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	m.WriteErrors = map[uuid.UUID]error{}
	m.WriteErrors[dispenser.ScanWifiUUID] = errors.New("write not permitted")

	c.ScanWifi(context.Background())

	st := c.State()
	assert.True(t, st.Connected)
	assert.Equal(t, "scan", opError(t, st.Err).Op)
}

func TestConnectWifiSendsCredential(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	c.ConnectWifi(context.Background(), "Dunder MiffLAN", "beets")

	require.Len(t, m.Joins, 1)
	assert.Equal(t, mock.Join{SSID: "Dunder MiffLAN", Credential: "beets"}, m.Joins[0])
	assert.NoError(t, c.State().Err)
}

func TestConnectWifiOpenNetwork(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	c.ConnectWifi(context.Background(), "Unencrypted_Honeypot", "")

	require.Len(t, m.Joins, 1)
	assert.Empty(t, m.Joins[0].Credential)
}

func TestConnectWifiEmptySSID(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	c.ConnectWifi(context.Background(), "", "secret")

	assert.Zero(t, m.WriteCount(dispenser.ConnectWifiUUID))
	assert.Equal(t, "join", opError(t, c.State().Err).Op)
}

func TestForceUpdateRecoversAfterFailedRead(t *testing.T) {
	c, m := newTestClient(t, dispenser.Options{})
	m.ReadErrors = map[uuid.UUID]error{}
	m.ReadErrors[dispenser.StatusUUID] = errors.New("read not permitted")
	c.Connect(context.Background())

	st := c.State()
	require.True(t, st.Connected)
	assert.Nil(t, st.Dispenser)
	assert.Equal(t, "refresh", opError(t, st.Err).Op)

	m.ReadErrors = nil
	c.ForceUpdate(context.Background())

	st = c.State()
	require.NotNil(t, st.Dispenser)
	assert.Equal(t, mock.StatusReady, st.Dispenser.Status)
	assert.NoError(t, st.Err)
	assert.True(t, m.Subscribed())
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	before := c.State().Dispenser
	require.NotNil(t, before)

	m.ReadErrors = map[uuid.UUID]error{}
	m.ReadErrors[dispenser.OnionAPIUUID] = errors.New("read not permitted")
	m.SetStatus(mock.StatusConnected)
	c.ForceUpdate(context.Background())

	st := c.State()
	require.NotNil(t, st.Dispenser)
	assert.Equal(t, *before, *st.Dispenser)
	assert.Equal(t, "refresh", opError(t, st.Err).Op)
}

func TestForceUpdateRereadsStatus(t *testing.T) {
	c, m := connected(t, dispenser.Options{})
	m.SetStatus(mock.StatusConnected)

	c.ForceUpdate(context.Background())
	assert.Equal(t, mock.StatusConnected, c.State().Dispenser.Status)

	// Notifications still flow through the fresh subscription.
	require.True(t, m.EmitNetwork(mock.Network{SSID: "cafe", Encryption: "none"}))
	require.Eventually(t, wifiCount(c), time.Second, 5*time.Millisecond)
}

func TestForceUpdateWithoutSession(t *testing.T) {
	c, _ := newTestClient(t, dispenser.Options{})
	c.ForceUpdate(context.Background())

	st := c.State()
	assert.Nil(t, st.Dispenser)
	assert.NoError(t, st.Err)
}

func TestMissingCharacteristic(t *testing.T) {
	c, m := newTestClient(t, dispenser.Options{})
	m.MissingChars = map[uuid.UUID]bool{}
	m.MissingChars[dispenser.DiscoveredWifiUUID] = true
	c.Connect(context.Background())

	st := c.State()
	assert.True(t, st.Connected)
	assert.Nil(t, st.Dispenser)
	assert.ErrorIs(t, st.Err, dispenser.ErrNotFound)
}

func TestWatch(t *testing.T) {
	c, m := newTestClient(t, dispenser.Options{})

	var mu sync.Mutex
	var states []dispenser.State
	cancel := c.Watch(func(st dispenser.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})

	mu.Lock()
	require.Len(t, states, 1, "Watch calls back with the current state")
	mu.Unlock()

	c.Connect(context.Background())
	m.Drop()

	mu.Lock()
	n := len(states)
	last := states[n-1]
	mu.Unlock()
	assert.Greater(t, n, 3)
	assert.False(t, last.Connected)

	cancel()
	c.Connect(context.Background())
	mu.Lock()
	assert.Len(t, states, n)
	mu.Unlock()
}
