package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/wolfman30/appointment-saga/internal/config"
	sagaworker "github.com/wolfman30/appointment-saga/internal/worker/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment-saga worker",
		"env", cfg.Env,
		"countries", cfg.CountryCodes(),
		"queue_backend", cfg.QueueBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sagaworker.Run(ctx, cfg, logger); err != nil {
		logger.Error("saga worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("saga worker stopped")
}
