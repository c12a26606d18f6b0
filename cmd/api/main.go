package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/appointment-saga/internal/api/router"
	appbootstrap "github.com/wolfman30/appointment-saga/internal/app/bootstrap"
	"github.com/wolfman30/appointment-saga/internal/appointments"
	appconfig "github.com/wolfman30/appointment-saga/internal/config"
	sagaworker "github.com/wolfman30/appointment-saga/internal/worker/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment-saga API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"countries", cfg.CountryCodes(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := newRegistry()
	rt, err := appbootstrap.Build(ctx, cfg, logger, appbootstrap.WithRegisterer(registry))
	if err != nil {
		logger.Error("failed to build saga runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// A memory queue only exists inside this process, so the consumers must too.
	waitWorkers := func() {}
	if cfg.QueueBackend == "memory" {
		wait, err := sagaworker.Start(ctx, rt)
		if err != nil {
			logger.Error("failed to start inline saga workers", "error", err)
			os.Exit(1)
		}
		waitWorkers = wait
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newHandler(rt, registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	waitWorkers()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newHandler(rt *appbootstrap.Runtime, reg *prometheus.Registry) http.Handler {
	return router.New(&router.Config{
		Logger:              rt.Logger,
		AppointmentsHandler: appointments.NewHandler(rt.Service(), rt.Validator(), rt.Logger),
		MetricsHandler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
}
