//go:build (darwin || windows) && !mock

package main

import (
	"log/slog"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
	"github.com/sweetbit-io/dispenser-setup/dispenser/ble"
	"github.com/sweetbit-io/dispenser-setup/internal/config"
)

func GetTransport(logger *slog.Logger, cfg config.Config) (dispenser.Transport, error) {
	if cfg.Adapter != "" {
		logger.Warn("adapter selection is only supported on linux, ignoring", "adapter", cfg.Adapter)
	}
	return ble.New(logger)
}
