//go:build !linux && !darwin && !windows && !mock

package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
	"github.com/sweetbit-io/dispenser-setup/internal/config"
)

// GetTransport returns an error for unsupported operating systems.
func GetTransport(logger *slog.Logger, cfg config.Config) (dispenser.Transport, error) {
	return nil, fmt.Errorf("bluetooth on %s: %w", runtime.GOOS, dispenser.ErrNotSupported)
}
