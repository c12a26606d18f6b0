package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	appbootstrap "github.com/wolfman30/appointment-saga/internal/app/bootstrap"
	appconfig "github.com/wolfman30/appointment-saga/internal/config"
	"github.com/wolfman30/appointment-saga/internal/worker"
	sagaworker "github.com/wolfman30/appointment-saga/internal/worker/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

type sqsHandler func(context.Context, lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error)

// newHandler builds the processor for one country. Only that country is
// wired so the function needs just its own fan-out queue and detail store.
func newHandler(ctx context.Context, cfg *appconfig.Config, code string, logger *logging.Logger, opts ...appbootstrap.Option) (sqsHandler, *appbootstrap.Runtime, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil, fmt.Errorf("COUNTRY_CODE is required")
	}
	country, ok := cfg.Country(code)
	if !ok {
		return nil, nil, fmt.Errorf("country %s is not enabled in COUNTRIES", code)
	}
	scoped := *cfg
	scoped.Countries = []appconfig.CountryConfig{country}

	rt, err := appbootstrap.Build(ctx, &scoped, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	processor, err := rt.Processor(code)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return worker.SQSLambdaHandler(sagaworker.CountryConsumer(code), processor, rt.Metrics, logger), rt, nil
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	handler, rt, err := newHandler(context.Background(), cfg, os.Getenv("COUNTRY_CODE"), logger)
	if err != nil {
		logger.Error("failed to initialize country lambda", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	lambda.Start(handler)
}
