package events

import (
	"context"
	"fmt"

	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/internal/saga"
)

// StatusPublisher emits status events on the shared status channel.
type StatusPublisher struct {
	queue queue.Client
}

// NewStatusPublisher wraps the shared status queue.
func NewStatusPublisher(q queue.Client) *StatusPublisher {
	if q == nil {
		panic("events: status queue cannot be nil")
	}
	return &StatusPublisher{queue: q}
}

// Publish sends evt to the status channel.
func (p *StatusPublisher) Publish(ctx context.Context, evt saga.StatusEvent) error {
	body, err := EncodeStatus(evt)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("events: publish status for %s: %w", evt.AppointmentID, err)
	}
	return nil
}
