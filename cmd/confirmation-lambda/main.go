package main

import (
	"context"
	"os"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	appbootstrap "github.com/wolfman30/appointment-saga/internal/app/bootstrap"
	appconfig "github.com/wolfman30/appointment-saga/internal/config"
	"github.com/wolfman30/appointment-saga/internal/worker"
	sagaworker "github.com/wolfman30/appointment-saga/internal/worker/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

func newHandler(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts ...appbootstrap.Option) (func(context.Context, lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error), *appbootstrap.Runtime, error) {
	rt, err := appbootstrap.Build(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return worker.SQSLambdaHandler(sagaworker.ReconcilerConsumer, rt.Reconciler(), rt.Metrics, logger), rt, nil
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	handler, rt, err := newHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize confirmation lambda", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	lambda.Start(handler)
}
