package dispenser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNetwork(t *testing.T, payload string) Network {
	t.Helper()
	n, err := DecodeNetwork([]byte(payload))
	require.NoError(t, err)
	return n
}

func TestReconcileReplacesBySSID(t *testing.T) {
	var list []Network
	list = Reconcile(list, mustNetwork(t, `{"ssid":"cafe","encryption":"none"}`))
	list = Reconcile(list, mustNetwork(t, `{"ssid":"home","encryption":"wpa2"}`))
	list = Reconcile(list, mustNetwork(t, `{"ssid":"cafe","encryption":"wpa2"}`))

	require.Len(t, list, 2)
	assert.Equal(t, "cafe", list[0].SSID)
	assert.Equal(t, Encryption("wpa2"), list[0].Encryption)
	assert.Equal(t, "home", list[1].SSID)
	assert.Equal(t, Encryption("wpa2"), list[1].Encryption)
}

func TestReconcileKeepsFirstSeenOrder(t *testing.T) {
	var list []Network
	for _, ssid := range []string{"b", "a", "c", "a", "b"} {
		list = Reconcile(list, Network{SSID: ssid})
	}
	var got []string
	for _, n := range list {
		got = append(got, n.SSID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestReconcileIdempotent(t *testing.T) {
	n := mustNetwork(t, `{"ssid":"cafe","encryption":"psk","strength":40}`)
	once := Reconcile(nil, n)
	twice := Reconcile(once, n)
	assert.Equal(t, once, twice)
}

func TestReconcileDoesNotModifyInput(t *testing.T) {
	orig := []Network{{SSID: "cafe", Encryption: EncryptionNone}}
	updated := Reconcile(orig, Network{SSID: "cafe", Encryption: EncryptionPSK})

	assert.Equal(t, EncryptionNone, orig[0].Encryption)
	assert.Equal(t, EncryptionPSK, updated[0].Encryption)

	appended := Reconcile(orig, Network{SSID: "home"})
	assert.Len(t, orig, 1)
	assert.Len(t, appended, 2)
}

func TestReconcileReplacesUnknownFields(t *testing.T) {
	list := Reconcile(nil, mustNetwork(t, `{"ssid":"cafe","channel":6}`))
	list = Reconcile(list, mustNetwork(t, `{"ssid":"cafe","band":"5GHz"}`))

	require.Len(t, list, 1)
	_, hasChannel := list[0].Fields["channel"]
	assert.False(t, hasChannel, "stale field survived the update")
	assert.JSONEq(t, `"5GHz"`, string(list[0].Fields["band"]))
}

func TestFindNetwork(t *testing.T) {
	list := []Network{{SSID: "cafe"}, {SSID: "home", Encryption: EncryptionPSK}}

	n, ok := FindNetwork(list, "home")
	require.True(t, ok)
	assert.Equal(t, EncryptionPSK, n.Encryption)

	_, ok = FindNetwork(list, "office")
	assert.False(t, ok)
}
