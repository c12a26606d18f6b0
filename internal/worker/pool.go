// Package worker runs batch handlers against queues, either as long-polling
// goroutine pools or behind an AWS Lambda SQS event source.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/appointment-saga/internal/observability/metrics"
	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

// BatchHandler processes one received batch. It must report every message it
// wants redelivered; all others are acknowledged.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []queue.Message) BatchResult
}

// BatchResult lists the ids of messages that failed processing.
type BatchResult struct {
	Failed []string
}

// Fail marks id for redelivery.
func (r *BatchResult) Fail(id string) {
	r.Failed = append(r.Failed, id)
}

// HasFailed reports whether id was marked for redelivery.
func (r BatchResult) HasFailed(id string) bool {
	for _, f := range r.Failed {
		if f == id {
			return true
		}
	}
	return false
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 10
	defaultBatchSize     = 10
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	maxReceiveBackoff    = 5 * time.Second
)

type poolConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	metrics          *metrics.SagaMetrics
}

// Option customizes pool behavior.
type Option func(*poolConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) Option {
	return func(cfg *poolConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) Option {
	return func(cfg *poolConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) Option {
	return func(cfg *poolConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithMetrics records batch item failures.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(cfg *poolConfig) {
		cfg.metrics = m
	}
}

// Pool consumes one queue with a fixed number of goroutines.
type Pool struct {
	name    string
	queue   queue.Client
	handler BatchHandler
	logger  *logging.Logger
	cfg     poolConfig
	wg      sync.WaitGroup
}

// NewPool constructs a consumer pool named name.
func NewPool(name string, q queue.Client, handler BatchHandler, logger *logging.Logger, opts ...Option) *Pool {
	if q == nil {
		panic("worker: queue cannot be nil")
	}
	if handler == nil {
		panic("worker: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := poolConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pool{
		name:    name,
		queue:   q,
		handler: handler,
		logger:  logger.With("consumer", name),
		cfg:     cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopping", "worker_id", workerID)
			return
		default:
		}

		if _, err := p.PollOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to receive messages", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxReceiveBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

// PollOnce receives one batch, hands it to the handler, acknowledges the
// successes and releases the failures. It returns the batch size.
func (p *Pool) PollOnce(ctx context.Context) (int, error) {
	msgs, err := p.queue.Receive(ctx, p.cfg.receiveBatchSize, p.cfg.receiveWaitSecs)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	result := p.handler.HandleBatch(ctx, msgs)
	p.cfg.metrics.ObserveBatchFailures(p.name, len(result.Failed))

	releaser, canRelease := p.queue.(queue.Releaser)
	for _, msg := range msgs {
		if result.HasFailed(msg.ID) {
			if canRelease {
				p.settle(msg, releaser.Release, "release")
			}
			continue
		}
		p.settle(msg, p.queue.Delete, "delete")
	}
	return len(msgs), nil
}

// settle runs on a detached context so shutdown does not strand acknowledged work.
func (p *Pool) settle(msg queue.Message, fn func(context.Context, string) error, action string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := fn(ctx, msg.ReceiptHandle); err != nil {
		p.logger.Error("failed to settle message", "action", action, "error", err, "message_id", msg.ID)
	}
}
