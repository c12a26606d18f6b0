package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxReceives is how many deliveries a message gets before a release
// moves it to the dead letters instead of back onto the queue.
const DefaultMaxReceives = 5

// MemoryQueue is a Client backed by an in-memory buffered channel. Received
// messages are held in flight until deleted or released, so it redelivers
// like a real broker.
type MemoryQueue struct {
	ch          chan Message
	maxReceives int

	mu       sync.Mutex
	inflight map[string]Message
	attempts map[string]int
	dead     []Message
}

// MemoryOption customizes a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithMaxReceives sets the delivery limit; n <= 0 disables dead-lettering.
func WithMaxReceives(n int) MemoryOption {
	return func(q *MemoryQueue) {
		q.maxReceives = n
	}
}

var (
	_ Client   = (*MemoryQueue)(nil)
	_ Releaser = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int, opts ...MemoryOption) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	q := &MemoryQueue{
		ch:          make(chan Message, buffer),
		maxReceives: DefaultMaxReceives,
		inflight:    make(map[string]Message),
		attempts:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	return q.push(ctx, Message{ID: uuid.NewString(), Body: body})
}

func (q *MemoryQueue) push(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	} else {
		select {
		case msg := <-q.ch:
			return q.collect(msg, maxMessages), nil
		default:
			return nil, nil
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

// Delete acknowledges a received message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if msg, ok := q.inflight[receiptHandle]; ok {
		delete(q.inflight, receiptHandle)
		delete(q.attempts, msg.ID)
	}
	return nil
}

// Release puts an in-flight message back on the queue. A message that has
// used up its deliveries is dead-lettered instead. If the buffer stays full
// until ctx is done the message remains in flight under the same receipt.
func (q *MemoryQueue) Release(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	msg, ok := q.inflight[receiptHandle]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	delete(q.inflight, receiptHandle)
	if q.maxReceives > 0 && msg.Attempts >= q.maxReceives {
		delete(q.attempts, msg.ID)
		msg.ReceiptHandle = ""
		q.dead = append(q.dead, msg)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	requeued := msg
	requeued.ReceiptHandle = ""
	if err := q.push(ctx, requeued); err != nil {
		q.mu.Lock()
		q.inflight[receiptHandle] = msg
		q.mu.Unlock()
		return err
	}
	return nil
}

// DeadLetters returns the messages that exhausted their deliveries.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead...)
}

// Pending reports how many messages wait to be received.
func (q *MemoryQueue) Pending() int {
	return len(q.ch)
}

// InFlight reports how many received messages are neither deleted nor released.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) collect(first Message, max int) []Message {
	messages := make([]Message, 0, max)
	messages = append(messages, q.lease(first))

	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, q.lease(msg))
		default:
			return messages
		}
	}
	return messages
}

func (q *MemoryQueue) lease(msg Message) Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[msg.ID]++
	msg.Attempts = q.attempts[msg.ID]
	msg.ReceiptHandle = uuid.NewString()
	q.inflight[msg.ReceiptHandle] = msg
	return msg
}
