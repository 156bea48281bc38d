//go:build linux && !mock

package main

import (
	"log/slog"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
	"github.com/sweetbit-io/dispenser-setup/dispenser/bluez"
	"github.com/sweetbit-io/dispenser-setup/internal/config"
)

func GetTransport(logger *slog.Logger, cfg config.Config) (dispenser.Transport, error) {
	t, err := bluez.New(cfg.Adapter, logger)
	if err != nil {
		return nil, err
	}
	return t, nil
}
