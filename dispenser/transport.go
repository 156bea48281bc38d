package dispenser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Transport finds dispensers and opens links to them.
type Transport interface {
	// Scan reports every device advertising service until ctx is done. found
	// is never called after Scan returns.
	Scan(ctx context.Context, service uuid.UUID, found func(Device)) error
	// Connect opens a link to a device previously reported by Scan.
	Connect(ctx context.Context, dev Device) (Link, error)
}

// Link is an open connection to one physical dispenser.
type Link interface {
	Service(ctx context.Context, id uuid.UUID) (Service, error)
	// OnDisconnect registers fn to be called once when the link drops. The
	// returned function removes the registration.
	OnDisconnect(fn func()) (cancel func())
	Disconnect() error
}

// Service is a group of characteristics on the dispenser.
type Service interface {
	Characteristic(ctx context.Context, id uuid.UUID) (Characteristic, error)
}

// Characteristic is one addressable attribute within a service.
type Characteristic interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	// Notify starts notifications; ctx bounds only the start. Values arrive
	// on the channel in delivery order until stop is called or the link
	// drops.
	Notify(ctx context.Context) (values <-chan []byte, stop func() error, err error)
}

// Chooser picks one device out of the candidates reported while scanning.
// It returns ErrSelectionCancelled when the user backs out.
type Chooser func(ctx context.Context, candidates <-chan Device) (Device, error)

// FirstDevice picks the first dispenser found.
func FirstDevice(ctx context.Context, candidates <-chan Device) (Device, error) {
	select {
	case <-ctx.Done():
		return Device{}, fmt.Errorf("no dispenser found: %w", ErrSelectionCancelled)
	case dev, ok := <-candidates:
		if !ok {
			return Device{}, fmt.Errorf("no dispenser found: %w", ErrSelectionCancelled)
		}
		return dev, nil
	}
}

// AddressChooser picks the device with the given address, ignoring others.
func AddressChooser(address string) Chooser {
	return func(ctx context.Context, candidates <-chan Device) (Device, error) {
		for {
			select {
			case <-ctx.Done():
				return Device{}, fmt.Errorf("dispenser %s not found: %w", address, ErrSelectionCancelled)
			case dev, ok := <-candidates:
				if !ok {
					return Device{}, fmt.Errorf("dispenser %s not found: %w", address, ErrSelectionCancelled)
				}
				if strings.EqualFold(dev.Address, address) {
					return dev, nil
				}
			}
		}
	}
}

// RequestDevice scans for dispensers and lets choose pick one. Scanning
// stops as soon as the chooser returns.
func RequestDevice(ctx context.Context, t Transport, choose Chooser) (Device, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	candidates := make(chan Device)
	scanErr := make(chan error, 1)
	go func() {
		defer close(candidates)
		seen := make(map[string]bool)
		scanErr <- t.Scan(ctx, ServiceUUID, func(dev Device) {
			if seen[dev.Address] {
				return
			}
			seen[dev.Address] = true
			select {
			case candidates <- dev:
			case <-ctx.Done():
			}
		})
	}()

	dev, err := choose(ctx, candidates)
	cancel()
	// Drain so the scanner can exit.
	for range candidates {
	}
	if err != nil {
		serr := <-scanErr
		if serr != nil && !errors.Is(serr, context.Canceled) && !errors.Is(serr, context.DeadlineExceeded) {
			return Device{}, fmt.Errorf("scan failed: %w", serr)
		}
		return Device{}, err
	}
	return dev, nil
}
