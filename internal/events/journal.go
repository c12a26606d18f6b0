package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

// DefaultJournalTimeout bounds one journal write.
const DefaultJournalTimeout = 2 * time.Second

// Journal records accepted saga transitions for audit. Journal failures never
// affect the saga itself, and Record returns within its own timeout whatever
// the caller's context.
type Journal interface {
	Record(ctx context.Context, t saga.Transition)
}

// NopJournal discards transitions.
type NopJournal struct{}

func (NopJournal) Record(context.Context, saga.Transition) {}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaJournal appends transitions to a Kafka topic keyed by appointment id,
// so every transition of one appointment lands on the same partition.
type KafkaJournal struct {
	writer  kafkaWriter
	logger  *logging.Logger
	timeout time.Duration
}

var _ Journal = (*KafkaJournal)(nil)

// NewKafkaJournal creates a journal writing to topic on brokers.
func NewKafkaJournal(brokers []string, topic string, logger *logging.Logger) *KafkaJournal {
	if len(brokers) == 0 {
		panic("events: kafka brokers required")
	}
	if topic == "" {
		panic("events: kafka topic required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	// Async: WriteMessages only enqueues; delivery errors surface in Completion.
	return newKafkaJournal(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           DefaultJournalTimeout,
		MaxAttempts:            3,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("saga journal delivery failed", "error", err, "messages", len(msgs))
			}
		},
	}, logger, DefaultJournalTimeout)
}

func newKafkaJournal(w kafkaWriter, logger *logging.Logger, timeout time.Duration) *KafkaJournal {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = DefaultJournalTimeout
	}
	return &KafkaJournal{writer: w, logger: logger, timeout: timeout}
}

// Record writes t on a detached context bounded by the journal timeout;
// failures are logged.
func (j *KafkaJournal) Record(ctx context.Context, t saga.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()
	if err := j.write(ctx, t); err != nil {
		j.logger.Warn("saga journal write failed", "error", err, "appointment_id", t.AppointmentID, "to", t.To)
	}
}

func (j *KafkaJournal) write(ctx context.Context, t saga.Transition) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("events: encode transition: %w", err)
	}
	return j.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.AppointmentID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "to", Value: []byte(t.To)},
			{Key: "country", Value: []byte(t.CountryCode)},
		},
	})
}

// Close flushes and closes the writer.
func (j *KafkaJournal) Close() error {
	return j.writer.Close()
}
