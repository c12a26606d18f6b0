package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	rabbitConfirmTimeout = 10 * time.Second
	rabbitPollInterval   = 200 * time.Millisecond
)

type amqpChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
	Close() error
}

// RabbitQueue implements Client on a durable quorum queue using the default
// exchange. Publishes wait for publisher confirms. Deliveries past the
// receive limit go to the queue's dead-letter queue.
type RabbitQueue struct {
	mu          sync.Mutex
	ch          amqpChannel
	queue       string
	maxReceives int
	attempts    map[uint64]int
}

// DeadLetterQueueName is where queueName's exhausted deliveries are routed.
func DeadLetterQueueName(queueName string) string {
	return queueName + ".dlq"
}

func rabbitQueueArgs(queueName string, maxReceives int) amqp.Table {
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadLetterQueueName(queueName),
	}
	if maxReceives > 0 {
		args["x-delivery-limit"] = int32(maxReceives)
	}
	return args
}

var (
	_ Client   = (*RabbitQueue)(nil)
	_ Releaser = (*RabbitQueue)(nil)
)

// NewRabbitQueue opens a channel on conn, declares the dead-letter queue and
// the quorum queue, and enables publisher confirms. maxReceives <= 0 leaves
// redelivery unbounded.
func NewRabbitQueue(conn *amqp.Connection, queueName string, maxReceives int) (*RabbitQueue, error) {
	if conn == nil {
		panic("queue: amqp connection cannot be nil")
	}
	if queueName == "" {
		panic("queue: rabbitmq queue name cannot be empty")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queue: open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueueName(queueName), true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue: declare rabbitmq dead-letter queue for %s: %w", queueName, err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, rabbitQueueArgs(queueName, maxReceives)); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue: declare rabbitmq queue %s: %w", queueName, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue: enable publisher confirms: %w", err)
	}
	return newRabbitQueue(ch, queueName, maxReceives), nil
}

func newRabbitQueue(ch amqpChannel, queueName string, maxReceives int) *RabbitQueue {
	return &RabbitQueue{ch: ch, queue: queueName, maxReceives: maxReceives, attempts: make(map[uint64]int)}
}

// Send publishes body and blocks until the broker confirms it.
func (q *RabbitQueue) Send(ctx context.Context, body string) error {
	q.mu.Lock()
	deferred, err := q.ch.PublishWithDeferredConfirmWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         []byte(body),
	})
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("queue: rabbitmq publish to %s: %w", q.queue, err)
	}
	if deferred == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("queue: rabbitmq nacked publish to %s", q.queue)
		}
		return nil
	case <-time.After(rabbitConfirmTimeout):
		return fmt.Errorf("queue: rabbitmq publisher confirm timeout on %s", q.queue)
	}
}

// Receive pulls up to maxMessages, polling until one arrives or waitSeconds elapse.
func (q *RabbitQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for {
		messages, err := q.drain(maxMessages)
		if err != nil || len(messages) > 0 || !time.Now().Before(deadline) {
			return messages, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(rabbitPollInterval):
		}
	}
}

func (q *RabbitQueue) drain(max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var messages []Message
	for len(messages) < max {
		d, ok, err := q.ch.Get(q.queue, false)
		if err != nil {
			return messages, fmt.Errorf("queue: rabbitmq get from %s: %w", q.queue, err)
		}
		if !ok {
			break
		}
		attempts := deliveryAttempts(d)
		q.attempts[d.DeliveryTag] = attempts
		id := d.MessageId
		if id == "" {
			id = strconv.FormatUint(d.DeliveryTag, 10)
		}
		messages = append(messages, Message{
			ID:            id,
			Body:          string(d.Body),
			ReceiptHandle: strconv.FormatUint(d.DeliveryTag, 10),
			Attempts:      attempts,
		})
	}
	return messages, nil
}

// Delete acks the delivery.
func (q *RabbitQueue) Delete(_ context.Context, receiptHandle string) error {
	tag, err := parseDeliveryTag(receiptHandle)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.attempts, tag)
	if err := q.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("queue: rabbitmq ack: %w", err)
	}
	return nil
}

// Release nacks the delivery with requeue, or without it once the delivery
// limit is reached so the broker dead-letters it.
func (q *RabbitQueue) Release(_ context.Context, receiptHandle string) error {
	tag, err := parseDeliveryTag(receiptHandle)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	requeue := q.maxReceives <= 0 || q.attempts[tag] < q.maxReceives
	delete(q.attempts, tag)
	if err := q.ch.Nack(tag, false, requeue); err != nil {
		return fmt.Errorf("queue: rabbitmq nack: %w", err)
	}
	return nil
}

// Close closes the underlying channel.
func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Close()
}

// deliveryAttempts reads the quorum queue delivery counter, which counts
// earlier deliveries, and falls back to the redelivered flag.
func deliveryAttempts(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func parseDeliveryTag(receiptHandle string) (uint64, error) {
	if receiptHandle == "" {
		return 0, errors.New("queue: empty rabbitmq receipt handle")
	}
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("queue: invalid rabbitmq receipt handle %q: %w", receiptHandle, err)
	}
	return tag, nil
}
