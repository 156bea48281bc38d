package tui

import "strings"

// Outcome is what the wizard makes of the dispenser's status text after a
// join was sent.
type Outcome int

const (
	OutcomePending Outcome = iota
	// OutcomeConnected: joined the network and reached the internet.
	OutcomeConnected
	// OutcomeUnconnected: the network couldn't be joined.
	OutcomeUnconnected
	// OutcomeFailed: joined, but no internet behind it.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomeUnconnected:
		return "unconnected"
	case OutcomeFailed:
		return "failed"
	}
	return "pending"
}

// InterpretStatus maps the dispenser's status text to an Outcome. Anything
// not recognised is still pending.
func InterpretStatus(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "connected", "online":
		return OutcomeConnected
	case "failed", "wifi_failed":
		return OutcomeUnconnected
	case "offline", "no_internet":
		return OutcomeFailed
	}
	return OutcomePending
}
