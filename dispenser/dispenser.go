package dispenser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GATT identifiers exposed by the dispenser firmware.
var (
	ServiceUUID        = uuid.MustParse("ca000000-75dd-4a0e-b688-66b7df342cc6")
	StatusUUID         = uuid.MustParse("ca001000-75dd-4a0e-b688-66b7df342cc6")
	ScanWifiUUID       = uuid.MustParse("ca002000-75dd-4a0e-b688-66b7df342cc6")
	DiscoveredWifiUUID = uuid.MustParse("ca003000-75dd-4a0e-b688-66b7df342cc6")
	ConnectWifiUUID    = uuid.MustParse("ca004000-75dd-4a0e-b688-66b7df342cc6")
	OnionAPIUUID       = uuid.MustParse("ca005000-75dd-4a0e-b688-66b7df342cc6")
)

// ScanTrigger is the single byte written to the scan characteristic.
const ScanTrigger byte = 0x01

// Encryption is the security kind a network advertises. Values other than
// the canonical ones are kept verbatim as reported by the dispenser.
type Encryption string

const (
	EncryptionNone       Encryption = "none"
	EncryptionPSK        Encryption = "psk"
	EncryptionEnterprise Encryption = "enterprise"
)

// Kind folds the spellings used by different firmware versions into one of
// the three canonical kinds. Unknown values are treated as password based.
func (e Encryption) Kind() Encryption {
	switch strings.ToLower(strings.TrimSpace(string(e))) {
	case "", "none", "open", "off":
		return EncryptionNone
	case "enterprise", "eap", "wpa-eap", "wpa2-eap", "wpa3-eap", "802.1x", "wpa2-enterprise":
		return EncryptionEnterprise
	default:
		return EncryptionPSK
	}
}

// NeedsCredential reports whether joining requires a passphrase.
func (e Encryption) NeedsCredential() bool {
	return e.Kind() != EncryptionNone
}

// Network is one access point reported by the dispenser. SSID is the key.
type Network struct {
	SSID       string
	Encryption Encryption
	// Strength is 0-100, or 0 when the dispenser didn't report it.
	Strength uint8
	// Fields holds every field of the notification, including ones this
	// package doesn't interpret.
	Fields map[string]json.RawMessage
}

// UnmarshalJSON decodes a discovered-network notification payload.
func (n *Network) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("network payload is null: %w", ErrOperationFailed)
	}

	var out Network
	raw, ok := fields["ssid"]
	if !ok {
		return fmt.Errorf("network payload has no ssid: %w", ErrNotFound)
	}
	if err := json.Unmarshal(raw, &out.SSID); err != nil {
		return fmt.Errorf("invalid ssid: %w", err)
	}
	if raw, ok := fields["encryption"]; ok {
		var enc string
		if err := json.Unmarshal(raw, &enc); err != nil {
			return fmt.Errorf("invalid encryption: %w", err)
		}
		out.Encryption = Encryption(enc)
	}
	if raw, ok := fields["strength"]; ok {
		var s float64
		if err := json.Unmarshal(raw, &s); err == nil {
			switch {
			case s < 0:
				s = 0
			case s > 100:
				s = 100
			}
			out.Strength = uint8(s)
		}
	}
	out.Fields = fields
	*n = out
	return nil
}

// MarshalJSON writes the network back out with all of its fields.
func (n Network) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(n.Fields)+2)
	for k, v := range n.Fields {
		fields[k] = v
	}
	fields["ssid"] = n.SSID
	fields["encryption"] = n.Encryption
	return json.Marshal(fields)
}

// Snapshot is the set of scalar attributes read once per session.
type Snapshot struct {
	Status   string `json:"status"`
	OnionAPI string `json:"onionApi"`
}

// Device is a candidate dispenser found while discovering.
type Device struct {
	Address string
	Name    string
	RSSI    int16
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Address)
}

// State is what the client publishes to its observers. Values are never
// mutated after being handed out.
type State struct {
	Supported      bool
	Connecting     bool
	Connected      bool
	Device         Device
	Dispenser      *Snapshot
	AvailableWifis []Network
	// Err is the most recent failure, or nil once an operation succeeds.
	Err error
}
