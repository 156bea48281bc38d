//go:build mock

package main

import (
	"log/slog"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
	"github.com/sweetbit-io/dispenser-setup/dispenser/mock"
	"github.com/sweetbit-io/dispenser-setup/internal/config"
)

func GetTransport(logger *slog.Logger, cfg config.Config) (dispenser.Transport, error) {
	logger.Info("using the simulated dispenser")
	return mock.New(), nil
}
