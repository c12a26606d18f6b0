package worker

import (
	"context"
	"strconv"

	lambdaevents "github.com/aws/aws-lambda-go/events"

	"github.com/wolfman30/appointment-saga/internal/observability/metrics"
	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

// SQSLambdaHandler adapts a BatchHandler to an SQS event source mapping with
// ReportBatchItemFailures enabled: only the failed records are retried.
func SQSLambdaHandler(name string, handler BatchHandler, m *metrics.SagaMetrics, logger *logging.Logger) func(context.Context, lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	if handler == nil {
		panic("worker: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return func(ctx context.Context, evt lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
		msgs := make([]queue.Message, 0, len(evt.Records))
		for _, rec := range evt.Records {
			attempts, _ := strconv.Atoi(rec.Attributes["ApproximateReceiveCount"])
			msgs = append(msgs, queue.Message{
				ID:            rec.MessageId,
				Body:          rec.Body,
				ReceiptHandle: rec.ReceiptHandle,
				Attempts:      attempts,
			})
		}

		result := handler.HandleBatch(ctx, msgs)
		m.ObserveBatchFailures(name, len(result.Failed))

		resp := lambdaevents.SQSEventResponse{}
		for _, id := range result.Failed {
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: id})
		}
		logger.Info("batch processed", "consumer", name, "received", len(msgs), "failed", len(result.Failed))
		return resp, nil
	}
}
