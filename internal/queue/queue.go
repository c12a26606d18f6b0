// Package queue provides the message transports behind the fan-out and status
// channels. Every backend offers at-least-once delivery: a received message
// stays owned by the consumer until it is deleted, and is redelivered if it
// never is.
package queue

import "context"

// Client is a point-to-point queue.
type Client interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Releaser is implemented by transports that can hand an unacknowledged
// message back for immediate redelivery. Transports without it (SQS) redeliver
// once the visibility timeout expires.
type Releaser interface {
	Release(ctx context.Context, receiptHandle string) error
}

// Message is one delivery of a queued body.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	// Attempts is the delivery count when the transport reports one, else 0.
	Attempts int
}
