// Package sagaworker runs the saga's queue consumers as long-polling pools:
// one per country processor plus the reconciler.
package sagaworker

import (
	"context"
	"fmt"

	appbootstrap "github.com/wolfman30/appointment-saga/internal/app/bootstrap"
	appconfig "github.com/wolfman30/appointment-saga/internal/config"
	"github.com/wolfman30/appointment-saga/internal/worker"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

// ReconcilerConsumer names the status channel consumer in logs and metrics.
const ReconcilerConsumer = "reconciler"

// CountryConsumer names the consumer of a country's fan-out partition.
func CountryConsumer(code string) string {
	return "country-" + code
}

// Pools builds one pool per configured country and one for the reconciler.
func Pools(rt *appbootstrap.Runtime) ([]*worker.Pool, error) {
	if rt == nil {
		return nil, fmt.Errorf("sagaworker: runtime is required")
	}
	cfg := rt.Config
	opts := []worker.Option{
		worker.WithWorkerCount(cfg.WorkerCount),
		worker.WithReceiveBatchSize(cfg.ReceiveBatchSize),
		worker.WithReceiveWaitSeconds(cfg.ReceiveWaitSeconds),
		worker.WithMetrics(rt.Metrics),
	}

	var pools []*worker.Pool
	for _, code := range rt.Countries.Codes() {
		processor, err := rt.Processor(code)
		if err != nil {
			return nil, err
		}
		country, _ := rt.Countries.Get(code)
		pools = append(pools, worker.NewPool(CountryConsumer(code), country.Queue, processor, rt.Logger, opts...))
	}
	pools = append(pools, worker.NewPool(ReconcilerConsumer, rt.StatusQueue, rt.Reconciler(), rt.Logger, opts...))
	return pools, nil
}

// Start launches every pool and returns a function that waits for them to
// drain after ctx is cancelled.
func Start(ctx context.Context, rt *appbootstrap.Runtime) (func(), error) {
	pools, err := Pools(rt)
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		p.Start(ctx)
	}
	rt.Logger.Info("saga workers started", "pools", len(pools), "workers_per_pool", rt.Config.WorkerCount)
	return func() {
		for _, p := range pools {
			p.Wait()
		}
	}, nil
}

// Run starts the saga workers and blocks until ctx is canceled.
func Run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg == nil {
		return fmt.Errorf("sagaworker: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.QueueBackend == "memory" {
		return fmt.Errorf("sagaworker: cannot run standalone when QUEUE_BACKEND=memory; the API process runs inline workers instead")
	}

	rt, err := appbootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	wait, err := Start(ctx, rt)
	if err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("saga workers stopping")
	wait()
	return nil
}
