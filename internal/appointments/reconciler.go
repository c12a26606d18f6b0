package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/appointment-saga/internal/events"
	"github.com/wolfman30/appointment-saga/internal/observability/metrics"
	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/internal/worker"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

// CountryFailureMessage is stored on records a country processor reported failed.
const CountryFailureMessage = "country processing failed"

// Reconciler applies status events from country processors to the primary
// record store. Only pending records move; everything else is a no-op.
type Reconciler struct {
	store        RecordStore
	journal      events.Journal
	metrics      *metrics.SagaMetrics
	logger       *logging.Logger
	retryUnknown bool
	now          func() time.Time
}

var _ worker.BatchHandler = (*Reconciler)(nil)

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithRetryUnknown redelivers events whose appointment does not exist yet
// instead of dropping them.
func WithRetryUnknown(retry bool) ReconcilerOption {
	return func(r *Reconciler) {
		r.retryUnknown = retry
	}
}

// WithReconcilerJournal records applied transitions.
func WithReconcilerJournal(j events.Journal) ReconcilerOption {
	return func(r *Reconciler) {
		if j != nil {
			r.journal = j
		}
	}
}

// WithReconcilerMetrics reports reconcile outcomes.
func WithReconcilerMetrics(m *metrics.SagaMetrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func NewReconciler(store RecordStore, logger *logging.Logger, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("appointments: record store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reconciler{
		store:   store,
		journal: events.NopJournal{},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleBatch reconciles each message independently.
func (r *Reconciler) HandleBatch(ctx context.Context, msgs []queue.Message) worker.BatchResult {
	var result worker.BatchResult
	for _, msg := range msgs {
		if err := r.Handle(ctx, msg.Body); err != nil {
			r.logger.Error("status event not reconciled", "error", err, "message_id", msg.ID)
			result.Fail(msg.ID)
		}
	}
	return result
}

// Handle reconciles a single status event body. A nil return means the
// message can be acknowledged.
func (r *Reconciler) Handle(ctx context.Context, body string) error {
	ctx, span := tracer.Start(ctx, "appointments.reconcile")
	defer span.End()

	evt, err := events.DecodeStatus(body)
	if err != nil {
		span.RecordError(err)
		r.metrics.ObserveReconciled("unknown", "malformed")
		return err
	}
	log := r.logger.ForAppointment(evt.AppointmentID, evt.CountryCode)

	errMsg := ""
	if evt.Status == saga.StatusFailed {
		errMsg = CountryFailureMessage
	}

	err = r.store.ConditionalUpdateStatus(ctx, evt.AppointmentID, saga.StatusPending, evt.Status, errMsg)
	switch {
	case err == nil:
		log.Info("appointment reconciled", "status", evt.Status)
		r.metrics.ObserveReconciled(string(evt.Status), "applied")
		r.journal.Record(ctx, saga.Transition{
			AppointmentID: evt.AppointmentID,
			CountryCode:   evt.CountryCode,
			From:          saga.StatusPending,
			To:            evt.Status,
			Reason:        errMsg,
			OccurredAt:    r.now(),
		})
		return nil
	case errors.Is(err, saga.ErrConditionFailed):
		log.Info("appointment already terminal, ignoring status event", "status", evt.Status)
		r.metrics.ObserveReconciled(string(evt.Status), "noop")
		return nil
	case errors.Is(err, saga.ErrNotFound):
		r.metrics.ObserveReconciled(string(evt.Status), "unknown")
		if r.retryUnknown {
			log.Warn("status event for unknown appointment, will retry")
			return fmt.Errorf("appointments: reconcile %s: %w", evt.AppointmentID, err)
		}
		log.Warn("status event for unknown appointment dropped")
		return nil
	default:
		span.RecordError(err)
		r.metrics.ObserveReconciled(string(evt.Status), "error")
		return fmt.Errorf("appointments: reconcile %s: %w", evt.AppointmentID, err)
	}
}
