package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appointment-saga/internal/events"
	"github.com/wolfman30/appointment-saga/internal/observability/metrics"
	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

// DispatchFailureMessage is stored on records compensated after a failed publish.
const DispatchFailureMessage = "dispatch failure"

const compensationTimeout = 5 * time.Second

var tracer = otel.Tracer("appointment-saga.internal.appointments")

// Dispatcher publishes a fan-out message to the partition of its country.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg saga.FanoutMessage) error
}

// Service is the saga initiator and the read side of the primary record store.
type Service struct {
	store      RecordStore
	dispatcher Dispatcher
	journal    events.Journal
	metrics    *metrics.SagaMetrics
	logger     *logging.Logger
	now        func() time.Time
	newID      func() string
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithJournal records every accepted transition.
func WithJournal(j events.Journal) ServiceOption {
	return func(s *Service) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithServiceMetrics reports creation outcomes.
func WithServiceMetrics(m *metrics.SagaMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(store RecordStore, dispatcher Dispatcher, logger *logging.Logger, opts ...ServiceOption) *Service {
	if store == nil {
		panic("appointments: record store cannot be nil")
	}
	if dispatcher == nil {
		panic("appointments: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		journal:    events.NopJournal{},
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a pending record and publishes its fan-out message. If the
// publish fails the record is compensated to failed and the returned error
// wraps saga.ErrDispatchFailed together with the returned record. If the
// compensation fails too, the error also wraps saga.ErrCompensationFailed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*saga.Record, error) {
	ctx, span := tracer.Start(ctx, "appointments.create")
	defer span.End()

	now := s.now()
	record := &saga.Record{
		ID:          s.newID(),
		OwnerID:     req.OwnerID,
		ScheduleID:  req.ScheduleID,
		CountryCode: req.CountryCode,
		Status:      saga.StatusPending,
		CreatedAt:   saga.Timestamp(now),
		UpdatedAt:   saga.Timestamp(now),
	}
	span.SetAttributes(
		attribute.String("appointment.id", record.ID),
		attribute.String("appointment.country", record.CountryCode),
	)
	log := s.logger.ForAppointment(record.ID, record.CountryCode)

	if err := s.store.Create(ctx, record); err != nil {
		span.RecordError(err)
		s.metrics.ObserveCreated(record.CountryCode, "store_error")
		return nil, fmt.Errorf("appointments: persist pending record: %w", err)
	}

	// Journal only after the publish; a slow journal must not spend ctx.
	err := s.dispatcher.Dispatch(ctx, saga.FanoutMessage{
		AppointmentID: record.ID,
		OwnerID:       record.OwnerID,
		ScheduleID:    record.ScheduleID,
		CountryCode:   record.CountryCode,
	})
	s.journal.Record(ctx, saga.Transition{
		AppointmentID: record.ID,
		CountryCode:   record.CountryCode,
		To:            saga.StatusPending,
		OccurredAt:    now,
	})
	if err == nil {
		log.Info("appointment created", "owner_id", record.OwnerID, "schedule_id", record.ScheduleID)
		s.metrics.ObserveCreated(record.CountryCode, "dispatched")
		return record, nil
	}

	span.RecordError(err)
	log.Error("fanout dispatch failed, compensating", "error", err)
	dispatchErr := fmt.Errorf("%w: %w", saga.ErrDispatchFailed, err)

	// The caller may already be gone; compensation must still run.
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if cerr := s.store.ConditionalUpdateStatus(compCtx, record.ID, saga.StatusPending, saga.StatusFailed, DispatchFailureMessage); cerr != nil {
		log.Error("compensation failed, record may remain pending", "error", cerr)
		s.metrics.ObserveCreated(record.CountryCode, "compensation_failed")
		return record, errors.Join(dispatchErr, fmt.Errorf("%w: %w", saga.ErrCompensationFailed, cerr))
	}

	record.Status = saga.StatusFailed
	record.ErrorMessage = DispatchFailureMessage
	record.UpdatedAt = saga.Timestamp(s.now())
	s.journal.Record(compCtx, saga.Transition{
		AppointmentID: record.ID,
		CountryCode:   record.CountryCode,
		From:          saga.StatusPending,
		To:            saga.StatusFailed,
		Reason:        DispatchFailureMessage,
		OccurredAt:    s.now(),
	})
	s.metrics.ObserveCreated(record.CountryCode, "compensated")
	return record, dispatchErr
}

// Get returns the record for id, or saga.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*saga.Record, error) {
	ctx, span := tracer.Start(ctx, "appointments.get")
	defer span.End()
	record, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, saga.ErrNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	return record, nil
}

// ListByOwner returns every record of ownerID; an owner with none gets an
// empty slice.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]saga.Record, error) {
	ctx, span := tracer.Start(ctx, "appointments.list_by_owner")
	defer span.End()
	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if records == nil {
		records = []saga.Record{}
	}
	return records, nil
}
