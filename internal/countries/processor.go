package countries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appointment-saga/internal/events"
	"github.com/wolfman30/appointment-saga/internal/observability/metrics"
	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/internal/worker"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

var tracer = otel.Tracer("appointment-saga.internal.countries")

// StatusEmitter publishes status events to the reconciler.
type StatusEmitter interface {
	Publish(ctx context.Context, evt saga.StatusEvent) error
}

// Processor consumes one country's fan-out partition. It is safe to deliver
// the same message any number of times: the detail store is checked first and
// written insert-if-absent, so enrichment side effects happen at most once per
// appointment.
type Processor struct {
	country  string
	store    DetailStore
	resolver ScheduleResolver
	emitter  StatusEmitter
	metrics  *metrics.SagaMetrics
	logger   *logging.Logger
	now      func() time.Time
}

var _ worker.BatchHandler = (*Processor)(nil)

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

func WithProcessorMetrics(m *metrics.SagaMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

func NewProcessor(country string, store DetailStore, resolver ScheduleResolver, emitter StatusEmitter, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		panic("countries: processor country required")
	}
	if store == nil {
		panic("countries: detail store cannot be nil")
	}
	if resolver == nil {
		panic("countries: schedule resolver cannot be nil")
	}
	if emitter == nil {
		panic("countries: status emitter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		country:  country,
		store:    store,
		resolver: resolver,
		emitter:  emitter,
		logger:   logger.With("country", country),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Country returns the code this processor serves.
func (p *Processor) Country() string {
	return p.country
}

// HandleBatch processes every message independently; only failed ones are
// reported for redelivery.
func (p *Processor) HandleBatch(ctx context.Context, msgs []queue.Message) worker.BatchResult {
	var result worker.BatchResult
	for _, msg := range msgs {
		start := time.Now()
		outcome, err := p.Handle(ctx, msg.Body)
		p.metrics.ObserveCountryMessage(p.country, outcome, time.Since(start).Seconds())
		if err != nil {
			p.logger.Error("fanout message failed", "error", err, "message_id", msg.ID, "attempts", msg.Attempts)
			result.Fail(msg.ID)
		}
	}
	return result
}

// Handle processes one fan-out body and returns a short outcome label. A nil
// error means the message can be acknowledged.
func (p *Processor) Handle(ctx context.Context, body string) (string, error) {
	ctx, span := tracer.Start(ctx, "countries.process")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.country", p.country))

	msg, err := events.DecodeFanout(body)
	if err != nil {
		span.RecordError(err)
		return "malformed", err
	}
	if msg.CountryCode != p.country {
		err := fmt.Errorf("%w: %s message delivered to %s processor", events.ErrMalformedMessage, msg.CountryCode, p.country)
		span.RecordError(err)
		return "malformed", err
	}
	span.SetAttributes(attribute.String("appointment.id", msg.AppointmentID))
	log := p.logger.With("appointment_id", msg.AppointmentID)

	existing, err := p.store.Get(ctx, msg.AppointmentID)
	switch {
	case err == nil:
		log.Info("detail already stored, re-emitting status", "status", existing.Status)
		if err := p.emit(ctx, msg.AppointmentID, existing.Status); err != nil {
			return "emit_error", err
		}
		return "duplicate", nil
	case !errors.Is(err, saga.ErrNotFound):
		span.RecordError(err)
		p.emitFailure(ctx, log, msg.AppointmentID)
		return "store_error", err
	}

	schedule, err := p.resolver.Resolve(ctx, msg.ScheduleID)
	if errors.Is(err, saga.ErrScheduleNotFound) {
		log.Warn("schedule not found, failing appointment", "schedule_id", msg.ScheduleID)
		if err := p.emit(ctx, msg.AppointmentID, saga.StatusFailed); err != nil {
			return "emit_error", err
		}
		return "rejected", nil
	}
	if err != nil {
		span.RecordError(err)
		p.emitFailure(ctx, log, msg.AppointmentID)
		return "resolve_error", err
	}

	detail := saga.Detail{
		AppointmentID:   msg.AppointmentID,
		OwnerID:         msg.OwnerID,
		ScheduleID:      msg.ScheduleID,
		CenterID:        schedule.CenterID,
		SpecialtyID:     schedule.SpecialtyID,
		MedicID:         schedule.MedicID,
		AppointmentDate: schedule.AppointmentDate,
		Status:          saga.StatusCompleted,
		CreatedAt:       p.now().UTC(),
	}
	inserted, err := p.store.InsertIfAbsent(ctx, detail)
	if err != nil {
		span.RecordError(err)
		p.emitFailure(ctx, log, msg.AppointmentID)
		return "store_error", err
	}

	status := detail.Status
	if !inserted {
		// A concurrent delivery won the insert; report what it stored.
		stored, err := p.store.Get(ctx, msg.AppointmentID)
		if err != nil {
			span.RecordError(err)
			return "store_error", fmt.Errorf("countries: read concurrent detail: %w", err)
		}
		status = stored.Status
		log.Info("detail inserted concurrently", "status", status)
	}

	if err := p.emit(ctx, msg.AppointmentID, status); err != nil {
		span.RecordError(err)
		return "emit_error", err
	}
	log.Info("appointment processed", "status", status, "center_id", detail.CenterID, "medic_id", detail.MedicID)
	return string(status), nil
}

func (p *Processor) emit(ctx context.Context, appointmentID string, status saga.Status) error {
	err := p.emitter.Publish(ctx, saga.StatusEvent{
		AppointmentID: appointmentID,
		Status:        status,
		CountryCode:   p.country,
		ProcessedAt:   p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("countries: emit %s status: %w", status, err)
	}
	return nil
}

// emitFailure reports failed on a path that already has an error to return;
// a publish error here is only logged.
func (p *Processor) emitFailure(ctx context.Context, log *logging.Logger, appointmentID string) {
	if err := p.emit(ctx, appointmentID, saga.StatusFailed); err != nil {
		log.Error("failed to emit failure status", "error", err)
	}
}
