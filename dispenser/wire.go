package dispenser

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// joinRequest is the payload written to the join-network characteristic.
type joinRequest struct {
	SSID string `json:"ssid"`
	PSK  string `json:"psk,omitempty"`
}

// EncodeJoin builds the join-network payload. Both the SSID and the
// credential travel in one UTF-8 JSON object.
func EncodeJoin(ssid, credential string) ([]byte, error) {
	if ssid == "" {
		return nil, fmt.Errorf("empty ssid: %w", ErrOperationFailed)
	}
	if !utf8.ValidString(ssid) || !utf8.ValidString(credential) {
		return nil, fmt.Errorf("ssid and credential must be valid UTF-8: %w", ErrOperationFailed)
	}
	return json.Marshal(joinRequest{SSID: ssid, PSK: credential})
}

// DecodeJoin parses a join-network payload. The mock dispenser uses it.
func DecodeJoin(p []byte) (ssid, credential string, err error) {
	var req joinRequest
	if err := json.Unmarshal(p, &req); err != nil {
		return "", "", fmt.Errorf("invalid join payload: %w", err)
	}
	return req.SSID, req.PSK, nil
}

// DecodeNetwork parses one discovered-network notification.
func DecodeNetwork(p []byte) (Network, error) {
	var n Network
	if !utf8.Valid(p) {
		return n, fmt.Errorf("notification is not UTF-8: %w", ErrOperationFailed)
	}
	if err := json.Unmarshal(p, &n); err != nil {
		return n, err
	}
	if n.SSID == "" {
		return n, fmt.Errorf("notification has an empty ssid: %w", ErrNotFound)
	}
	return n, nil
}

// decodeText decodes a UTF-8 attribute value, replacing invalid sequences.
func decodeText(p []byte) string {
	if utf8.Valid(p) {
		return string(p)
	}
	return string([]rune(string(p)))
}
