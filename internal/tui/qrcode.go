package tui

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// EndpointURL turns the connectivity endpoint a dispenser reports into a URL
// a phone can open. Bare hosts are assumed to be served over plain http,
// which is how onion services are reached.
func EndpointURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "http://" + endpoint
}

// GenerateEndpointQRCode returns the TUI-friendly QR code string for the
// dispenser's connectivity endpoint.
func GenerateEndpointQRCode(endpoint string) (string, error) {
	url := EndpointURL(endpoint)
	if url == "" {
		return "", fmt.Errorf("dispenser has not reported an endpoint")
	}

	// Generate the QR code string for the terminal
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
